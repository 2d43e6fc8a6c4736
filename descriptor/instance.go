package descriptor

import "context"

// Instance is a live plugin held by the loader. Implementations are
// provided by the execution engines; callers never see engine types.
//
// Initialize and Invoke take the merged per-plugin configuration and
// operation payloads as plain JSON-compatible values so the contract
// stays identical across engines.
type Instance interface {
	// Info returns the plugin's self-reported metadata.
	Info(ctx context.Context) (*Descriptor, error)

	// Initialize prepares the plugin with its configuration.
	// A false return without an error is reported as an initialize
	// failure by the loader.
	Initialize(ctx context.Context, config map[string]any) (bool, error)

	// Invoke calls the capability operation named op with a JSON payload.
	Invoke(ctx context.Context, op string, input []byte) ([]byte, error)

	// Cleanup releases plugin resources. Best-effort; the loader logs
	// failures but proceeds with the unload.
	Cleanup(ctx context.Context) (bool, error)

	// Close releases engine resources backing the instance.
	Close(ctx context.Context) error
}

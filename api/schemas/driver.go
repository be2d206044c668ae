package schemas

import "context"

// -- Browser Driver Collaborator --
// The harness never talks to a browser engine directly. Everything it needs
// is expressed through this interface so the polling/classification logic
// can be exercised against a scripted fake in unit tests.

// Location describes the driver's current navigation state.
type Location struct {
	URL   string `json:"url"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// Driver is the browser collaborator consumed by the harness.
// Implementations must be safe for sequential use from a single test worker;
// the harness guarantees it never issues concurrent calls.
type Driver interface {
	// DOMSnapshot returns the serialized DOM of the current document.
	DOMSnapshot(ctx context.Context) (string, error)

	// CurrentLocation returns the current URL, pathname and document title.
	CurrentLocation(ctx context.Context) (Location, error)

	// Navigate loads the given path (absolute or relative to the base URL).
	Navigate(ctx context.Context, path string) error

	// SubmitCredentials performs the actual login protocol exchange for the
	// given identity. The harness only decides when to trigger it and
	// whether the resulting state is valid.
	SubmitCredentials(ctx context.Context, identity, proof string) error

	// ReadArtifacts harvests cookies and web storage sufficient to resume
	// the current session later.
	ReadArtifacts(ctx context.Context) (*SessionArtifact, error)

	// WriteArtifacts restores previously harvested cookies and storage.
	WriteArtifacts(ctx context.Context, artifact *SessionArtifact) error

	// ClearArtifacts removes all cookies and web storage so the next
	// evaluation starts from a logged-out state.
	ClearArtifacts(ctx context.Context) error
}

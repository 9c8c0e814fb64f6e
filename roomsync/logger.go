package roomsync

import "log/slog"

// discardLogger drops every record; it is the default until SetLogger or
// WithLogger supplies a real one.
func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

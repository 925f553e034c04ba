// Package quaff downloads files over HTTP.
//
// Transfers stream into a staging sibling of the destination and reach
// the final path only through an atomic rename, so a destination file
// either does not exist or is complete. Interrupted transfers leave
// their staging file behind and resume from it, both across retries
// within one call and across separate invocations. Progress snapshots
// with a smoothed transfer rate arrive through a per-request callback.
//
// The simplest use is the package-level Fetch:
//
//	outcome, err := quaff.Fetch(ctx, "https://example.com/data.bin", ".")
//
// For configuration, repeated downloads or the local cache, build a
// Client:
//
//	client := quaff.New(quaff.Options{Dir: "/tmp", MaxRetries: 5})
//	defer client.Close()
//	outcome, err := client.Fetch(ctx, quaff.Request{
//		URL:      "https://example.com/data.bin",
//		UseCache: true,
//	})
package quaff

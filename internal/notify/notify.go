// Package notify posts run summaries to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Summary formats the outcome of a run: one headline plus a line per
// failed scenario.
func Summary(instance string, passed int, failed map[string]error) string {
	var b strings.Builder
	if len(failed) == 0 {
		fmt.Fprintf(&b, "torture run against %s: %d passed", instance, passed)
		return b.String()
	}
	fmt.Fprintf(&b, "torture run against %s: %d passed, %d failed", instance, passed, len(failed))
	for _, name := range slices.Sorted(maps.Keys(failed)) {
		fmt.Fprintf(&b, "\n%s: %v", name, failed[name])
	}
	return b.String()
}

// Send posts message to endpoint as text/plain. Failed runs are tagged so
// ntfy shows them with a warning icon.
func Send(ctx context.Context, client *http.Client, endpoint, message string, failed bool) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("notify: endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "meet torture")
	if failed {
		req.Header.Set("Tags", "warning")
		req.Header.Set("Priority", "high")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

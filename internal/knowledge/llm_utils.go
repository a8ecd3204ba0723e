package knowledge

import (
	"context"
	"strings"
	"time"
)

func cleanMarkdownOutput(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```markdown") {
		text = strings.TrimPrefix(text, "```markdown")
		text = strings.TrimSuffix(text, "```")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}

// isSkip reports whether a summary response declines to describe the unit.
func isSkip(text string) bool {
	t := strings.ToUpper(strings.TrimSpace(text))
	t = strings.Trim(t, "`'\".* ")
	return t == "" || t == "SKIP" || strings.HasPrefix(t, "SKIP.") || strings.HasPrefix(t, "SKIP ")
}

// embedBatches runs fn over texts in slices of size, pausing between calls.
func embedBatches(ctx context.Context, texts []string, size int, pause time.Duration,
	fn func(ctx context.Context, batch []string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += size {
		if i > 0 && !waitOrCancel(ctx, pause) {
			return nil, ctx.Err()
		}
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := fn(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func waitOrCancel(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

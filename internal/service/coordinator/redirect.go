package coordinator

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// resolveRedirects follows up to maxRedirects redirects with HEAD requests and
// returns the final URL. Any failure, including running out of hops, falls
// back to the original URL.
func (c *Coordinator) resolveRedirects(ctx context.Context, original string, headers domain.Headers, maxRedirects int) string {
	if maxRedirects <= 0 {
		return original
	}

	current := original
	for hop := 0; hop < maxRedirects; hop++ {
		resp, err := c.client.Open(ctx, &port.Request{
			Method:  http.MethodHead,
			URL:     current,
			Headers: headers,
			Timeout: c.config.RedirectTimeout,
		})
		if err != nil {
			c.logger.Warn("failed to resolve redirects, using original url",
				zap.String("url", original),
				zap.Error(err))
			return original
		}
		resp.Body.Close()

		if !domain.IsRedirect(resp.StatusCode) {
			if hop > 0 {
				c.logger.Debug("resolved redirects",
					zap.String("url", original),
					zap.String("resolved", current),
					zap.Int("hops", hop))
			}
			return current
		}

		location := resp.Header.Get("Location")
		next, err := domain.ResolveRedirect(current, location)
		if err != nil {
			c.logger.Warn("bad redirect location, using original url",
				zap.String("url", current),
				zap.String("location", location),
				zap.Error(err))
			return original
		}
		c.logger.Debug("redirect",
			zap.Int("hop", hop+1),
			zap.Int("max", maxRedirects),
			zap.String("from", current),
			zap.String("to", next))
		current = next
	}

	c.logger.Warn("reached maximum redirects, using original url",
		zap.String("url", original),
		zap.String("last", current),
		zap.Int("max", maxRedirects))
	return original
}

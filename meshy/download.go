package meshy

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/meshypipe/internal/retry"
	"github.com/BaSui01/meshypipe/types"
)

// Download streams url into dest in ChunkSize pieces and returns the number of
// bytes written. Parent directories are created as needed. The body lands in a
// temporary sibling first and is renamed into place once complete, so dest is
// never left half-written.
func (c *Client) Download(ctx context.Context, kind TaskKind, url, dest string) (int64, error) {
	n, err := retry.DoWithResultTyped(c.retryer, ctx, func() (int64, error) {
		return c.downloadOnce(ctx, url, dest)
	})
	c.metrics.RecordDownload(string(kind), n, err)
	if err != nil {
		return 0, asPipelineError(ctx, err)
	}
	c.logger.Debug("download complete", append(contextFields(ctx),
		zap.String("kind", string(kind)),
		zap.String("dest", dest),
		zap.Int64("bytes", n),
	)...)
	return n, nil
}

func (c *Client) downloadOnce(ctx context.Context, url, dest string) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, types.Errorf(types.ErrIO, "create directory %s", dir).WithCause(err)
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, types.Errorf(types.ErrInvalidResponse, "invalid download URL %q", url).WithCause(err)
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordHTTPRequest(http.MethodGet, "download", 0, time.Since(start))
		return 0, transportError(ctx, http.MethodGet, url, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordHTTPRequest(http.MethodGet, "download", resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, types.PreviewLimit))
		return 0, types.UpstreamError(http.MethodGet, url, resp.StatusCode, preview)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, types.Errorf(types.ErrIO, "create temporary file in %s", dir).WithCause(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	// Hide ReadFrom/WriteTo so the copy really moves ChunkSize pieces.
	n, copyErr := io.CopyBuffer(struct{ io.Writer }{tmp}, struct{ io.Reader }{resp.Body}, *buf)
	closeErr := tmp.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return 0, types.Errorf(types.ErrCanceled, "download %s canceled", url).WithCause(ctx.Err())
		}
		return 0, types.Errorf(types.ErrUpstream, "download %s interrupted", url).WithCause(copyErr).WithRetryable(true)
	}
	if closeErr != nil {
		return 0, types.Errorf(types.ErrIO, "write %s", dest).WithCause(closeErr)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, types.Errorf(types.ErrIO, "move download into %s", dest).WithCause(err)
	}

	return n, nil
}

package platform

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"threadcast/pkg/logx"
)

// DryRun is a Client that publishes nowhere. It fabricates remote ids and
// remembers what it "published" so the demo daemon and manual testing can
// exercise the full pipeline without platform credentials.
type DryRun struct {
	log logx.Logger

	mu   sync.Mutex
	sent map[string]PublishRequest
}

func NewDryRun(log logx.Logger) *DryRun {
	return &DryRun{log: log, sent: map[string]PublishRequest{}}
}

func (c *DryRun) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if err := ctx.Err(); err != nil {
		return PublishResult{}, err
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.sent[id] = req
	c.mu.Unlock()
	c.log.Info("dry-run publish",
		logx.String("remote_id", id),
		logx.String("parent", req.ParentRemoteID),
		logx.Int("content_len", len(req.Content)),
		logx.Int("media", len(req.MediaRefs)))
	return PublishResult{RemoteID: id}, nil
}

func (c *DryRun) FetchMetrics(ctx context.Context, remoteID string) (Metrics, error) {
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}
	// Nothing was actually published, so every count is zero.
	c.log.Debug("dry-run metrics fetch", logx.String("remote_id", remoteID))
	return Metrics{}, nil
}

// Sent reports how many publishes have been accepted so far.
func (c *DryRun) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

package daemon

import (
	"context"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/types"
)

// syncLoop pulls the configs of the objects a peer lists the local node in
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.SyncConfigs(context.Background())
		case <-d.stopCh:
			return
		}
	}
}

// pull is a config to fetch from a peer
type pull struct {
	path string
	peer string
	csum string
}

// SyncConfigs fetches, from the peer holding the most recent one, every
// object config listing the local node that differs from the stored one
func (d *Daemon) SyncConfigs(ctx context.Context) {
	for _, p := range d.pendingPulls() {
		if ctx.Err() != nil {
			return
		}
		logger := log.WithPeer(log.WithPath(d.logger, p.path), p.peer)
		if err := d.pullConfig(ctx, p); err != nil {
			logger.Warn().Err(err).Msg("Failed to fetch object config")
			continue
		}
		logger.Info().Str("csum", p.csum).Msg("Object config fetched")
	}
}

func (d *Daemon) pendingPulls() []pull {
	local := d.cfg.Node.Name
	var pulls []pull
	for _, path := range d.ds.Paths() {
		var (
			newest *types.InstanceConfig
			from   string
		)
		mine := d.ds.Instance(local, path)
		for node, data := range d.ds.Instances(path) {
			if node == local || data == nil || data.Config == nil {
				continue
			}
			if !data.Config.HasNode(local) || d.engine.PeerState(node) == types.PeerDown {
				continue
			}
			if newest == nil || data.Config.UpdatedAt.After(newest.UpdatedAt) {
				newest, from = data.Config, node
			}
		}
		if newest == nil {
			continue
		}
		if mine != nil && mine.Config != nil {
			if mine.Config.Checksum == newest.Checksum || !newest.UpdatedAt.After(mine.Config.UpdatedAt) {
				continue
			}
		}
		pulls = append(pulls, pull{path: path, peer: from, csum: newest.Checksum})
	}
	return pulls
}

func (d *Daemon) pullConfig(ctx context.Context, p pull) error {
	c, err := d.pool.Get(p.peer)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Heartbeat.Timeout)
	defer cancel()

	var obj object.Object
	if err := c.Call(ctx, "GET", "object_config", map[string]interface{}{"path": p.path}, &obj); err != nil {
		return err
	}
	if obj.Config == nil {
		return apierrors.NotFound("peer %s has no config for %s", p.peer, p.path)
	}

	if existing, err := d.store.GetObject(p.path); err == nil {
		obj.CreatedAt = existing.CreatedAt
	}
	obj.UpdatedAt = time.Now()
	if err := d.store.PutObject(&obj); err != nil {
		return err
	}
	return d.evaluator.EvaluatePath(ctx, p.path)
}

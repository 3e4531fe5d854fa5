package monitor

import (
	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/types"
)

func (m *Monitor) handle(in *Intent) error {
	data := m.ds.Instance(m.cfg.Local, in.Path)

	switch in.Kind {
	case IntentCreate:
		if data == nil || data.Config == nil {
			return apierrors.NotFound("object %s is not configured on %s", in.Path, m.cfg.Local)
		}
		mon := types.Monitor{Status: types.MonIdle}
		if data.Monitor != nil {
			mon = *data.Monitor
		}
		if in.GlobalExpect != "" {
			if err := m.setExpect(&mon, data.Config, in.GlobalExpect); err != nil {
				return err
			}
		}
		m.publish(in.Path, mon)
		m.evaluate(in.Path)
		return nil

	case IntentDelete:
		if data == nil {
			return apierrors.NotFound("object %s not found", in.Path)
		}
		if action, ok := m.inflight[in.Path]; ok {
			return apierrors.Conflict("%s: action %s in progress", in.Path, action)
		}
		return m.actor.Purge(in.Path)
	}

	if data == nil || data.Config == nil {
		return apierrors.NotFound("object %s not found", in.Path)
	}
	mon := types.Monitor{Status: types.MonIdle}
	if data.Monitor != nil {
		mon = *data.Monitor
	}

	switch in.Kind {
	case IntentSetMonitor:
		if in.GlobalExpect != "" {
			if err := m.setExpect(&mon, data.Config, in.GlobalExpect); err != nil {
				return err
			}
		}
		switch in.LocalExpect {
		case "":
		case "none", "unset":
			mon.LocalExpect = types.LocalExpectNone
		case string(types.LocalExpectStarted), string(types.LocalExpectShutdown):
			mon.LocalExpect = types.LocalExpect(in.LocalExpect)
		default:
			return apierrors.BadRequest("local_expect", "invalid value %q", in.LocalExpect)
		}

	case IntentClear:
		if mon.Status.IsFailed() {
			setStatus(&mon, types.MonIdle, m.now())
		}
		mon.Restart = nil
		mon.Reason = ""

	default:
		return apierrors.BadRequest("kind", "unknown intent %q", in.Kind)
	}

	m.publish(in.Path, mon)
	m.evaluate(in.Path)
	return nil
}

// setExpect validates and sets a global expect. A new expectation resets
// the restart budget and the local expect.
func (m *Monitor) setExpect(mon *types.Monitor, cfg *types.InstanceConfig, value string) error {
	ge, target, err := types.ParseGlobalExpect(value)
	if err != nil {
		return apierrors.BadRequest("global_expect", "%v", err)
	}
	if ge == types.ExpectPlacedAt && !cfg.HasNode(target) {
		return apierrors.BadRequest("global_expect", "%s is not a node of %s", target, cfg.Path)
	}
	if ge == mon.GlobalExpect && target == mon.GlobalExpectTarget {
		return nil
	}

	mon.GlobalExpect = ge
	mon.GlobalExpectTarget = target
	mon.GlobalExpectUpdated = m.now()
	mon.Restart = nil
	if ge == types.ExpectStarted || ge == types.ExpectPlaced || ge == types.ExpectPlacedAt {
		mon.LocalExpect = types.LocalExpectNone
		if mon.Status.IsFailed() {
			setStatus(mon, types.MonIdle, m.now())
		}
	}
	return nil
}

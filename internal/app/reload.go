package app

import (
	"context"
	"strings"

	"crosspost/internal/config"
	"crosspost/internal/eventbus"
	logx "crosspost/pkg/logx"
)

// reloadLoop applies committed config changes: logging settings are
// updated in place, and when any target block changed the publisher
// registry is rebuilt from scratch and swapped in atomically. Dispatches
// already in flight keep the snapshot they looked up.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs, changedTargets := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			a.log.Info("config change",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			if len(changedTargets) > 0 || sectionChanged(sections, "targets") {
				reg := a.builder.Build(config.NewTargetStore(newCfg), a.deps)
				a.holder.Swap(reg)
				a.log.Info("publisher registry rebuilt",
					logx.Int("targets", reg.Len()),
					logx.Any("changed", changedTargets))
			}

			a.bus.Publish(eventbus.ConfigReloaded(eventbus.ReloadEvent{
				Sections: sections,
				Targets:  changedTargets,
			}))
			lastApplied = newCfg
		}
	}
}

func sectionChanged(sections []string, name string) bool {
	for _, s := range sections {
		if s == name {
			return true
		}
	}
	return false
}

// Package patcher runs plugins and the blocklist engine against one world's
// data file and writes the result back atomically.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/blocklist"
	"adgobye.dev/internal/content"
	"adgobye.dev/internal/metrics"
	"adgobye.dev/internal/persistence/journal"
	"adgobye.dev/internal/plugin"
)

// ErrZipBomb wraps the abort reason when a container declares more
// decompressed bytes than the configured limit.
var ErrZipBomb = errors.New("patcher: declared decompressed size exceeds limit")

const (
	megabyte = 1000 * 1000
	// hardBufferCeiling forces on-disk recompression buffering regardless of
	// the configured memory budget.
	hardBufferCeiling = 1_900_000_000
)

type Config struct {
	DryRun                bool
	ZipBombLimitMB        int64
	Recompress            bool
	RecompressMemoryMaxMB int64
	DisableBackup         bool
	MaxThreads            int
	// Allowlist ids are never patched.
	Allowlist []string
}

func (c Config) threads() int {
	if c.MaxThreads <= 0 {
		return 2
	}
	return c.MaxThreads
}

// Reporter receives rules that matched nothing.
type Reporter interface {
	Report(c *content.Content, unmatched []blocklist.ObjectRule)
}

// Journal records each session.
type Journal interface {
	Write(r journal.Record) error
}

type Status string

const (
	StatusSkipped Status = "skipped"
	StatusAborted Status = "aborted"
	StatusClean   Status = "clean"
	StatusDryRun  Status = "dry_run"
	StatusPatched Status = "patched"
	StatusFailed  Status = "failed"
)

// Outcome summarises one Patch call. PatchedBy holds the content's
// bookkeeping after the run; Changed reports whether it must be persisted.
type Outcome struct {
	Session   string
	Status    Status
	Aborted   error
	PatchedBy content.PatchedBy
	Changed   bool
	Plugins   []string
	Disabled  int
	Unmatched []blocklist.ObjectRule
	Backup    string
}

type Patcher struct {
	cfg      Config
	codec    assets.Codec
	rules    *blocklist.Set
	plugins  []plugin.Entry
	engine   *blocklist.Engine
	reporter Reporter
	journal  Journal
	log      *slog.Logger
	metrics  *metrics.Metrics

	// beforeReplace runs after the temp file is complete and before it
	// replaces the data file.
	beforeReplace func(tmp, dst string) error
}

func New(cfg Config, codec assets.Codec, rules *blocklist.Set, plugins []plugin.Entry, reporter Reporter, j Journal, logger *slog.Logger, m *metrics.Metrics) *Patcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if rules == nil {
		rules = blocklist.NewSet()
	}
	return &Patcher{
		cfg:      cfg,
		codec:    codec,
		rules:    rules,
		plugins:  slices.Clone(plugins),
		engine:   blocklist.NewEngine(logger),
		reporter: reporter,
		journal:  j,
		log:      logger.With("component", "patcher"),
		metrics:  m,
	}
}

func (p *Patcher) allowlisted(id string) bool { return slices.Contains(p.cfg.Allowlist, id) }

// session is the state of one Patch run.
type session struct {
	c        *content.Content
	ctr      assets.Container
	estimate uint64
	override bool
	applied  []plugin.Entry
	// blocklistErr is set when the engine stopped partway through the rules.
	blocklistErr error
}

// Patch runs the pipeline for c and updates c.VersionMeta.PatchedBy in
// place. Non-world and allowlisted content is skipped. A zip-bomb abort is
// reported through the Outcome with a nil error; only I/O failures return
// an error, and they leave the data file untouched.
func (p *Patcher) Patch(ctx context.Context, c *content.Content) (out Outcome, err error) {
	out.Session = uuid.NewString()
	before := slices.Clone(c.VersionMeta.PatchedBy)
	start := time.Now()
	log := p.log.With("session", out.Session, "id", c.ID, "path", c.VersionMeta.Path)

	defer func() {
		if err != nil {
			// Nothing reached disk, so nothing counts as applied.
			c.VersionMeta.PatchedBy = before
			out.Status = StatusFailed
		}
		out.PatchedBy = slices.Clone(c.VersionMeta.PatchedBy)
		out.Changed = !before.Equal(c.VersionMeta.PatchedBy)
		p.metrics.PatchOutcome(string(out.Status), time.Since(start).Seconds())
		if out.Status != StatusSkipped {
			p.record(c, out, start, err)
		}
	}()

	if c.Type != content.World || p.allowlisted(c.ID) {
		out.Status = StatusSkipped
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	log.Info("processing content")
	ctr, err := p.codec.Open(c.DataPath())
	if err != nil {
		return out, fmt.Errorf("open %s: %w", c.DataPath(), err)
	}
	s := &session{c: c, ctr: ctr, estimate: ctr.DecompressedSize()}
	closed := false
	defer func() {
		if !closed {
			_ = ctr.Close()
		}
	}()

	if limit := p.cfg.ZipBombLimitMB * megabyte; limit > 0 && s.estimate > uint64(limit) {
		log.Warn("skipped likely zip bomb", "estimated_mb", s.estimate/megabyte, "limit_mb", p.cfg.ZipBombLimitMB)
		out.Status = StatusAborted
		out.Aborted = fmt.Errorf("%w: %d bytes declared", ErrZipBomb, s.estimate)
		return out, nil
	}

	for _, e := range p.plugins {
		p.runPlugin(log, s, e)
	}
	for _, e := range s.applied {
		out.Plugins = append(out.Plugins, e.Name)
	}

	if !s.override && !c.VersionMeta.PatchedBy.Has(content.BlocklistMarker) {
		p.applyBlocklist(log, s, &out)
	}

	if p.cfg.DryRun {
		out.Status = StatusDryRun
		log.Info("dry run, not writing", "would_write", ctr.Dirty(), "plugins", out.Plugins, "disabled", out.Disabled)
		return out, nil
	}
	if !ctr.Dirty() {
		out.Status = StatusClean
		log.Debug("nothing to write")
		return out, nil
	}

	closed = true
	backup, err := p.writeBack(s)
	if err != nil {
		return out, err
	}
	out.Backup = backup
	out.Status = StatusPatched
	if s.blocklistErr == nil {
		c.VersionMeta.PatchedBy.Add(content.BlocklistMarker)
	}

	for _, e := range s.applied {
		p.postWrite(log, s, e)
	}
	log.Info("patched content", "plugins", out.Plugins, "disabled", out.Disabled, "backup", backup)
	return out, nil
}

// runPlugin drives one plugin through its hooks. Errors and panics are
// logged against the plugin and end its participation in this run.
func (p *Patcher) runPlugin(log *slog.Logger, s *session, e plugin.Entry) {
	hook := "tracking"
	defer func() {
		if r := recover(); r != nil {
			p.pluginFailed(log, e, hook, fmt.Errorf("panic: %v", r))
		}
	}()

	pl := e.Plugin
	if pl.WantsTracking() && s.c.VersionMeta.PatchedBy.Has(e.Name) {
		log.Debug("plugin already applied to this version", "plugin", e.Name)
		return
	}
	applies := e.AppliesTo(s.c.ID)

	hook = "overrides_blocklist"
	if pl.OverridesBlocklist(s.c) {
		s.override = true
	}

	hook = "initialize"
	if err := pl.Initialize(s.c); err != nil {
		p.pluginFailed(log, e, hook, err)
		return
	}

	hook = "verify"
	verdict, err := pl.Verify(s.c, s.ctr)
	if err != nil {
		p.pluginFailed(log, e, hook, err)
		return
	}
	if verdict != plugin.VerifySuccess {
		log.Debug("plugin verify declined", "plugin", e.Name)
		applies = false
	}

	if applies {
		hook = "apply"
		res, err := pl.Apply(s.c, s.ctr, p.cfg.DryRun)
		if err != nil {
			p.pluginFailed(log, e, hook, err)
			return
		}
		log.Debug("plugin applied", "plugin", e.Name, "result", res.String())
		if res == plugin.Success {
			s.applied = append(s.applied, e)
		}
	}

	if !p.cfg.DryRun && pl.WantsTracking() {
		s.c.VersionMeta.PatchedBy.Add(e.Name)
	}

	hook = "post_apply"
	if err := pl.PostApply(s.c); err != nil {
		p.pluginFailed(log, e, hook, err)
	}
}

func (p *Patcher) postWrite(log *slog.Logger, s *session, e plugin.Entry) {
	defer func() {
		if r := recover(); r != nil {
			p.pluginFailed(log, e, "post_write", fmt.Errorf("panic: %v", r))
		}
	}()
	if err := e.Plugin.PostWrite(s.c); err != nil {
		p.pluginFailed(log, e, "post_write", err)
	}
}

func (p *Patcher) pluginFailed(log *slog.Logger, e plugin.Entry, hook string, err error) {
	p.metrics.PluginFailure(e.Name, hook)
	log.Error("plugin failed", "plugin", e.Name, "maintainer", e.Maintainer, "version", e.Version, "hook", hook, "err", err)
}

func (p *Patcher) applyBlocklist(log *slog.Logger, s *session, out *Outcome) {
	rules := p.rules.For(s.c.ID)
	if len(rules) == 0 {
		return
	}
	res, err := p.engine.Apply(s.ctr, rules)
	out.Disabled = res.Disabled
	if err != nil {
		// Objects already disabled stay disabled; the marker is withheld so
		// the next run processes the remaining rules.
		s.blocklistErr = err
		log.Error("blocklist failed", "disabled", res.Disabled, "err", err)
		return
	}
	out.Unmatched = res.Unmatched
	if len(res.Unmatched) == 0 {
		return
	}
	p.metrics.UnmatchedRules(len(res.Unmatched))
	for _, r := range res.Unmatched {
		log.Warn("block rule matched nothing", "rule", r.String())
	}
	if p.reporter != nil {
		p.reporter.Report(s.c, res.Unmatched)
	}
}

func (p *Patcher) record(c *content.Content, out Outcome, start time.Time, err error) {
	if p.journal == nil {
		return
	}
	r := journal.Record{
		Session:    out.Session,
		Time:       start.UTC(),
		ContentID:  c.ID,
		StableName: c.StableName,
		Version:    c.VersionMeta.Version,
		Path:       c.VersionMeta.Path,
		Outcome:    string(out.Status),
		DryRun:     p.cfg.DryRun,
		Plugins:    out.Plugins,
		Disabled:   out.Disabled,
		Unmatched:  len(out.Unmatched),
		Wrote:      out.Status == StatusPatched,
		Backup:     out.Backup,
		DurationMS: time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		r.Error = err.Error()
	case out.Aborted != nil:
		r.Error = out.Aborted.Error()
	}
	if jerr := p.journal.Write(r); jerr != nil {
		p.log.Warn("journal write failed", "err", jerr)
	}
}

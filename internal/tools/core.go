package tools

import "github.com/KafClaw/siteagent/internal/config"

// SiteStore is the site data the core tools operate on.
type SiteStore interface {
	OptionStore
	RecordStore
	UserStore
}

// CoreDeps wires the core tool set.
type CoreDeps struct {
	Runtime *config.Runtime
	Site    SiteStore
	Backup  Backuper
	Diff    DiffFunc
}

// RegisterCore registers the fixed core tools on r.
func RegisterCore(r *Registry, d CoreDeps) {
	sb := NewSandbox(d.Runtime)
	r.Register(NewReadFileTool(sb))
	r.Register(NewListDirTool(sb))
	r.Register(NewWriteFileTool(sb, d.Backup, d.Diff))
	r.Register(NewGetOptionTool(d.Site))
	r.Register(NewUpdateOptionTool(d.Site))
	r.Register(NewListRecordsTool(d.Site))
	r.Register(NewGetRecordTool(d.Site))
	r.Register(NewCreateRecordTool(d.Runtime, d.Site))
	r.Register(NewUpdateRecordTool(d.Runtime, d.Site, d.Diff))
	r.Register(NewListUsersTool(d.Site))
}

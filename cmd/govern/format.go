package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/awalker/govern"
	"github.com/awalker/govern/internal/health"
	"github.com/awalker/govern/internal/override"
	"github.com/awalker/govern/internal/registry"
	"github.com/awalker/govern/internal/store"
)

// output prints v as indented JSON or through the text renderer, per the
// --format flag.
func output[T any](v T, render func(T) string) error {
	if flagFormat == "json" {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(render(v))
	return nil
}

func renderReport(r *govern.Report) string {
	var b strings.Builder
	for _, f := range r.Files {
		if f.Err != "" {
			fmt.Fprintf(&b, "%s: error: %s\n", f.Path, f.Err)
			continue
		}
		for _, v := range f.Violations {
			loc := f.Path
			if v.Line > 0 {
				loc = fmt.Sprintf("%s:%d:%d", f.Path, v.Line, v.Column)
			}
			fmt.Fprintf(&b, "%s: %s [%s] %s\n", loc, v.Severity, v.Code, v.Message)
			if v.FixHint != "" {
				fmt.Fprintf(&b, "    hint: %s\n", v.FixHint)
			}
		}
		for _, fd := range f.Findings {
			fmt.Fprintf(&b, "%s:%d: note [%s] %s\n", fd.File, fd.Line, fd.Code, fd.Message)
		}
	}
	for _, c := range r.Clusters {
		fmt.Fprintf(&b, "cluster: (%s, %s) in %d files -> %s\n", c.Rule, c.Value, c.FileCount, c.PromotionCmd)
	}
	for _, h := range r.Health {
		fmt.Fprintf(&b, "health: [%s] %s\n", h.Code, h.Message)
	}
	fmt.Fprintf(&b, "%d file(s), %d error(s), %d warning(s) in %s\n",
		len(r.Files), r.ErrorCount, r.WarnCount, r.Duration.Round(time.Millisecond))
	return b.String()
}

func renderOverrides(infos []govern.OverrideInfo, clusters []override.Cluster, findings []override.Finding) string {
	var b strings.Builder
	for _, o := range infos {
		fmt.Fprintf(&b, "%s:%d (%s, %s) %s", o.File, o.Line, o.Rule, o.Value, o.Status)
		if o.Expires != nil {
			fmt.Fprintf(&b, " until %s", o.Expires.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " -- %s\n", o.Reason)
	}
	for _, c := range clusters {
		fmt.Fprintf(&b, "cluster: (%s, %s) in %d files -> %s\n", c.Rule, c.Value, c.FileCount, c.PromotionCmd)
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "%s:%d: note [%s] %s\n", f.File, f.Line, f.Code, f.Message)
	}
	if len(infos) == 0 {
		b.WriteString("no overrides\n")
	}
	return b.String()
}

func renderResolvedSet(set *registry.ResolvedSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d constraints)\n", set.ArchID, len(set.Constraints))
	for _, rc := range set.Constraints {
		fmt.Fprintf(&b, "  %s = %v", rc.Rule, rc.Value)
		if rc.Severity != "" {
			fmt.Fprintf(&b, " [%s]", rc.Severity)
		}
		fmt.Fprintf(&b, " (from %s)\n", rc.Origin)
	}
	return b.String()
}

func renderUsages(usages []store.EntityUsage) string {
	var b strings.Builder
	for _, u := range usages {
		fmt.Fprintf(&b, "%s:%d [%s] %s\n", u.Path, u.Line, u.ArchID, u.RefType)
	}
	if len(usages) == 0 {
		b.WriteString("no references\n")
	}
	return b.String()
}

func renderFindings(findings []health.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "[%s] %s\n", f.Code, f.Message)
	}
	if len(findings) == 0 {
		b.WriteString("registry is healthy\n")
	}
	return b.String()
}

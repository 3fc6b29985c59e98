// Package ckdl parses and serializes CKDL (Concept Kernel Definition
// Language) documents: EXTERN upstream-dependency declarations, KERNEL
// definitions with TYPE:/PORT: metadata, and EDGE declarations. Parsing is
// tolerant — an invalid declaration is logged and skipped rather than
// aborting the whole document, since a single malformed line should never
// take down the rest of a workflow definition.
package ckdl

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ckcore/internal/ckerrors"
	"ckcore/internal/logging"
	"ckcore/internal/urn"
)

// Extern is an upstream dependency declaration.
type Extern struct {
	Urn      string
	Category string
}

// Kernel is a kernel definition with optional type/port metadata.
type Kernel struct {
	Urn        string
	KernelType string
	Port       int // 0 if unset
}

// Edge is an edge declaration, decomposed into predicate/source/target, plus
// an optional trigger condition carried by a TRIGGER: line. Trigger is a
// separate free-text field from Predicate: the predicate is the enforced
// uppercase relation name, the trigger is a human-authored exit-condition
// expression (e.g. "when retries > 3") used only by cycle exit detection.
type Edge struct {
	Urn       string
	Predicate string
	Source    string
	Target    string
	Trigger   string
}

// Document is a fully parsed CKDL file.
type Document struct {
	Version string
	Domain  string
	Externs []Extern
	Kernels []Kernel
	Edges   []Edge
}

// Parse reads CKDL content line by line. Invalid EXTERN/KERNEL/EDGE
// declarations are warned about via internal/logging and skipped.
func Parse(content string) (*Document, error) {
	log := logging.Get(logging.CategoryCKDL)
	validator := urn.Validator{}

	doc := &Document{Version: "unknown", Domain: "unknown"}
	var currentCategory string
	var currentKernel *Kernel
	var currentEdge *Edge

	flushKernel := func() {
		if currentKernel != nil {
			doc.Kernels = append(doc.Kernels, *currentKernel)
			currentKernel = nil
		}
	}
	flushEdge := func() {
		if currentEdge != nil {
			doc.Edges = append(doc.Edges, *currentEdge)
			currentEdge = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			switch {
			case strings.HasPrefix(line, "# Version:"):
				doc.Version = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			case strings.HasPrefix(line, "# Domain:"):
				doc.Domain = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			case strings.HasPrefix(line, "# >"):
				currentCategory = strings.TrimSpace(line[3:])
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "EXTERN "):
			flushEdge()
			u := strings.TrimSpace(line[len("EXTERN "):])
			if validator.Validate(u).Valid {
				doc.Externs = append(doc.Externs, Extern{Urn: u, Category: currentCategory})
			} else {
				log.Warn("skipping invalid EXTERN URN %q", u)
			}

		case strings.HasPrefix(line, "KERNEL "):
			flushKernel()
			flushEdge()
			u := strings.TrimSpace(line[len("KERNEL "):])
			if validator.Validate(u).Valid {
				currentKernel = &Kernel{Urn: u}
			} else {
				log.Warn("skipping invalid KERNEL URN %q", u)
			}

		case strings.HasPrefix(line, "TYPE:"):
			if currentKernel != nil {
				currentKernel.KernelType = strings.TrimSpace(line[len("TYPE:"):])
			}

		case strings.HasPrefix(line, "PORT:"):
			if currentKernel != nil {
				if port, err := strconv.Atoi(strings.TrimSpace(line[len("PORT:"):])); err == nil {
					currentKernel.Port = port
				}
			}

		case strings.HasPrefix(line, "EDGE "):
			flushKernel()
			flushEdge()
			u := strings.TrimSpace(line[len("EDGE "):])
			edge, err := parseEdgeDeclaration(u)
			if err != nil {
				log.Warn("skipping invalid EDGE %q: %v", u, err)
				continue
			}
			currentEdge = &edge

		case strings.HasPrefix(line, "TRIGGER:"):
			if currentEdge != nil {
				currentEdge.Trigger = strings.TrimSpace(line[len("TRIGGER:"):])
			}
		}
	}
	flushKernel()
	flushEdge()

	if err := scanner.Err(); err != nil {
		return nil, ckerrors.Wrap(ckerrors.CodeParseError, "", err)
	}
	return doc, nil
}

func parseEdgeDeclaration(u string) (Edge, error) {
	validator := urn.Validator{}
	if res := validator.ValidateEdge(u); !res.Valid {
		return Edge{}, ckerrors.Newf(ckerrors.CodeInvalidEdgeUrn, u, res.Reason)
	}
	parsed, err := urn.ParseEdge(u)
	if err != nil {
		return Edge{}, err
	}
	return Edge{
		Urn:       u,
		Predicate: parsed.Predicate,
		Source:    "ckp://" + parsed.Source,
		Target:    "ckp://" + parsed.Target,
	}, nil
}

// KernelUrns returns every kernel's URN.
func (d *Document) KernelUrns() []string {
	out := make([]string, len(d.Kernels))
	for i, k := range d.Kernels {
		out[i] = k.Urn
	}
	return out
}

// ExternUrns returns every extern's URN.
func (d *Document) ExternUrns() []string {
	out := make([]string, len(d.Externs))
	for i, e := range d.Externs {
		out[i] = e.Urn
	}
	return out
}

// AllDependencies returns externs plus every edge endpoint.
func (d *Document) AllDependencies() []string {
	deps := d.ExternUrns()
	for _, e := range d.Edges {
		deps = append(deps, e.Source, e.Target)
	}
	return deps
}

// FindKernel returns the kernel declaration matching urn, if any.
func (d *Document) FindKernel(u string) (Kernel, bool) {
	for _, k := range d.Kernels {
		if k.Urn == u {
			return k, true
		}
	}
	return Kernel{}, false
}

// EdgesFrom returns every edge whose source matches.
func (d *Document) EdgesFrom(source string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns every edge whose target matches.
func (d *Document) EdgesTo(target string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

// ToCKDL renders the document back to CKDL text, grouping externs by category.
func (d *Document) ToCKDL() string {
	var sb strings.Builder

	sb.WriteString("# CKDL: Concept Kernel Definition Language\n")
	fmt.Fprintf(&sb, "# Version: %s\n", d.Version)
	fmt.Fprintf(&sb, "# Domain: %s\n\n", d.Domain)

	if len(d.Externs) > 0 {
		sb.WriteString("# --- 1. Upstream Dependencies ---\n")
		byCategory := map[string][]Extern{}
		var categories []string
		for _, e := range d.Externs {
			if _, seen := byCategory[e.Category]; !seen {
				categories = append(categories, e.Category)
			}
			byCategory[e.Category] = append(byCategory[e.Category], e)
		}
		sort.Strings(categories)
		for _, cat := range categories {
			if cat != "" {
				fmt.Fprintf(&sb, "\n# > %s\n", cat)
			}
			for _, e := range byCategory[cat] {
				fmt.Fprintf(&sb, "EXTERN %s\n", e.Urn)
			}
		}
		sb.WriteString("\n")
	}

	if len(d.Kernels) > 0 {
		sb.WriteString("# --- 2. Kernel Definitions ---\n\n")
		for _, k := range d.Kernels {
			fmt.Fprintf(&sb, "KERNEL %s\n", k.Urn)
			if k.KernelType != "" {
				fmt.Fprintf(&sb, "  TYPE: %s\n", k.KernelType)
			}
			if k.Port != 0 {
				fmt.Fprintf(&sb, "  PORT: %d\n", k.Port)
			}
			sb.WriteString("\n")
		}
	}

	if len(d.Edges) > 0 {
		sb.WriteString("# --- 3. Edge Definitions ---\n\n")
		for _, e := range d.Edges {
			fmt.Fprintf(&sb, "EDGE %s\n", e.Urn)
			if e.Trigger != "" {
				fmt.Fprintf(&sb, "  TRIGGER: %s\n", e.Trigger)
			}
		}
	}

	return sb.String()
}

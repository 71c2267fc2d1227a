// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle provides the built-in asset formats: plain text and
// bundles.
//
// A bundle is a text file with directives:
//
//	@include <path>   inline the loaded value of path (a load dependency)
//	@ref <path>       declare a runtime dependency on path
//	@label <name>     start a labeled section, ended by @end
//	@end
//
// Every other line is content. The flatten saver writes a bundle with
// every include resolved; the result is itself a bundle, so processed
// bundles load with the same loader.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bureau-foundation/assetpipe/lib/asset"
	"github.com/bureau-foundation/assetpipe/lib/processor"
)

const (
	// TextLoaderName names the text loader in metas.
	TextLoaderName = "text"

	// LoaderName names the bundle loader in metas.
	LoaderName = "bundle"

	// FlattenSaverName names the flatten saver in metas.
	FlattenSaverName = "flatten"
)

// Bundle is a loaded bundle.
type Bundle struct {
	// Text is the content outside sections, with includes resolved.
	Text string

	// Refs are the runtime dependencies in declaration order.
	Refs []string

	// Sections are the labeled sections in declaration order.
	Sections []Section
}

// Section is one labeled section of a bundle.
type Section struct {
	Label string
	Text  string
}

// Format encodes b as a bundle with no includes.
func (b *Bundle) Format() []byte {
	var buffer bytes.Buffer
	for _, ref := range b.Refs {
		fmt.Fprintf(&buffer, "@ref %s\n", ref)
	}
	if b.Text != "" {
		buffer.WriteString(b.Text)
		buffer.WriteByte('\n')
	}
	for _, section := range b.Sections {
		fmt.Fprintf(&buffer, "@label %s\n", section.Label)
		if section.Text != "" {
			buffer.WriteString(section.Text)
			buffer.WriteByte('\n')
		}
		buffer.WriteString("@end\n")
	}
	return buffer.Bytes()
}

// Register adds the text and bundle loaders and the flatten plan to
// loaders and plans, and makes flatten the default for bundles.
func Register(loaders *asset.Loaders, plans *processor.Plans) error {
	if err := loaders.Register(TextLoader{}); err != nil {
		return err
	}
	if err := loaders.Register(Loader{}); err != nil {
		return err
	}
	if err := plans.Register(LoaderName, FlattenSaver{}, LoaderName); err != nil {
		return err
	}
	return plans.SetDefault(LoaderName, FlattenSaverName, LoaderName)
}

// TextLoader loads any file as a string.
type TextLoader struct{}

func (TextLoader) Name() string                     { return TextLoaderName }
func (TextLoader) Extensions() []string             { return []string{"txt", "md"} }
func (TextLoader) DefaultSettings() json.RawMessage { return nil }

func (TextLoader) Load(ctx context.Context, data []byte, settings json.RawMessage, lc *asset.LoadContext) (any, error) {
	return string(data), nil
}

// LoaderSettings configures the bundle loader.
type LoaderSettings struct {
	// CommentPrefix starts lines that are dropped. Empty keeps every
	// line.
	CommentPrefix string `json:"comment_prefix"`
}

// Loader loads bundles.
type Loader struct{}

func (Loader) Name() string         { return LoaderName }
func (Loader) Extensions() []string { return []string{"bundle"} }

func (Loader) DefaultSettings() json.RawMessage {
	return json.RawMessage(`{"comment_prefix":"#"}`)
}

func (Loader) Load(ctx context.Context, data []byte, settings json.RawMessage, lc *asset.LoadContext) (any, error) {
	var config LoaderSettings
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &config); err != nil {
			return nil, fmt.Errorf("bundle loader settings: %w", err)
		}
	}

	bundle := &Bundle{}
	var body []string
	var section *Section
	var sectionBody []string

	for number, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		directive, argument, _ := strings.Cut(line, " ")
		argument = strings.TrimSpace(argument)
		switch {
		case config.CommentPrefix != "" && strings.HasPrefix(line, config.CommentPrefix):
			continue

		case directive == "@include":
			text, err := include(ctx, lc, argument)
			if err != nil {
				return nil, err
			}
			if section != nil {
				sectionBody = append(sectionBody, text)
			} else {
				body = append(body, text)
			}

		case directive == "@ref":
			if _, err := lc.Load(ctx, argument); err != nil {
				return nil, err
			}
			bundle.Refs = append(bundle.Refs, argument)

		case directive == "@label":
			if section != nil {
				return nil, fmt.Errorf("line %d: @label %s inside section %s", number+1, argument, section.Label)
			}
			if argument == "" {
				return nil, fmt.Errorf("line %d: @label without a name", number+1)
			}
			section = &Section{Label: argument}
			sectionBody = nil

		case directive == "@end":
			if section == nil {
				return nil, fmt.Errorf("line %d: @end outside a section", number+1)
			}
			section.Text = strings.Join(sectionBody, "\n")
			bundle.Sections = append(bundle.Sections, *section)
			lc.AddLabeled(section.Label, section.Text)
			section = nil

		case strings.HasPrefix(directive, "@"):
			return nil, fmt.Errorf("line %d: unknown directive %s", number+1, directive)

		case section != nil:
			sectionBody = append(sectionBody, line)

		default:
			body = append(body, line)
		}
	}
	if section != nil {
		return nil, fmt.Errorf("section %s has no @end", section.Label)
	}
	bundle.Text = strings.Join(body, "\n")
	return bundle, nil
}

// include loads path directly and returns its text.
func include(ctx context.Context, lc *asset.LoadContext, path string) (string, error) {
	loaded, err := lc.LoadDirect(ctx, path)
	if err != nil {
		return "", err
	}
	defer loaded.Release()
	switch value := loaded.Value.(type) {
	case string:
		return strings.TrimRight(value, "\n"), nil
	case *Bundle:
		return value.Text, nil
	default:
		return "", fmt.Errorf("cannot include %s: value is %T", path, loaded.Value)
	}
}

// FlattenSaver writes a bundle with its includes resolved.
type FlattenSaver struct{}

func (FlattenSaver) Name() string                     { return FlattenSaverName }
func (FlattenSaver) DefaultSettings() json.RawMessage { return nil }

func (FlattenSaver) Save(ctx context.Context, loaded *asset.LoadedAsset, settings json.RawMessage) ([]byte, error) {
	bundle, ok := loaded.Value.(*Bundle)
	if !ok {
		return nil, fmt.Errorf("flatten saver needs a bundle, got %T", loaded.Value)
	}
	return bundle.Format(), nil
}

package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk form: either a list under "definitions"
// or a single definition document.
type definitionFile struct {
	TenantID    string           `yaml:"tenant_id"`
	Definitions []DefinitionSpec `yaml:"definitions"`
}

// ParseDefinitions decodes the definitions in a YAML document. A
// file-level tenant_id applies to definitions that declare none.
func ParseDefinitions(data []byte) ([]DefinitionSpec, error) {
	var probe map[string]any
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}
	if len(probe) == 0 {
		return nil, nil
	}

	if _, ok := probe["definitions"]; ok {
		var file definitionFile
		if err := decodeStrict(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse definitions: %w", err)
		}
		for i := range file.Definitions {
			if file.Definitions[i].TenantID == "" {
				file.Definitions[i].TenantID = file.TenantID
			}
		}
		return file.Definitions, nil
	}

	var spec DefinitionSpec
	if err := decodeStrict(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}
	return []DefinitionSpec{spec}, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadDefinitionFiles reads every definition under path, a YAML file or a
// directory walked for .yaml and .yml files.
func LoadDefinitionFiles(path string) ([]DefinitionSpec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat definitions path %q: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != path && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			ext := strings.ToLower(filepath.Ext(p))
			if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk definitions directory %q: %w", path, err)
		}
		sort.Strings(files)
	}

	var specs []DefinitionSpec
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", file, err)
		}
		parsed, err := ParseDefinitions(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		specs = append(specs, parsed...)
	}
	return specs, nil
}

// LoadDefinitions registers every definition under path with svc and
// returns the compiled definitions. Loading stops at the first invalid
// definition.
func LoadDefinitions(ctx context.Context, svc *Service, path string) ([]*Definition, error) {
	specs, err := LoadDefinitionFiles(path)
	if err != nil {
		return nil, err
	}
	defs := make([]*Definition, 0, len(specs))
	for _, spec := range specs {
		def, err := svc.RegisterDefinition(ctx, spec)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/sigil-dev/sigil/internal/pattern"
)

// LoadMode controls how errors are handled during definition loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// NamedDefinition pairs a definition with the store path segment it
// will be written under.
type NamedDefinition struct {
	Name       string             `json:"name"`
	Definition pattern.Definition `json:"definition"`
}

// LoadResult contains the results of loading definitions from a directory.
type LoadResult struct {
	Definitions []NamedDefinition
	FileCount   int // number of .cue/.yaml/.yml files found
}

// LoadError represents an error that occurred during definition loading.
type LoadError struct {
	Code    string
	Message string
	File    string // source file if available
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No definition files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build or YAML decode failed
	ErrCodeWriteFailed = "E007" // Store write error

	// Definition compile errors, by field
	ErrCodeInvalidWatch   = "E101" // Malformed watch glob
	ErrCodeInvalidExtract = "E102" // Malformed extraction regex
	ErrCodeInvalidGuard   = "E103" // Malformed guard regex
	ErrCodeInvalidVeto    = "E104" // Malformed veto regex
)

// MapFieldToErrorCode maps a pattern compile-error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "watch":
		return ErrCodeInvalidWatch
	case "x":
		return ErrCodeInvalidExtract
	case "g":
		return ErrCodeInvalidGuard
	case "v":
		return ErrCodeInvalidVeto
	default:
		return ErrCodeGeneric
	}
}

// LoadDefinitions loads rule definitions from a directory and
// compile-checks each one.
//
// Two authoring formats are accepted side by side:
//   - CUE files with top-level `pattern: <name>: {...}` fields,
//     unified across the whole directory
//   - YAML files holding one definition each, named after the file stem
//
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDefinitions(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, yamlFiles, err := findDefinitionFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles)+len(yamlFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no definition files found in %s", dir)}}
	}

	result := &LoadResult{FileCount: len(cueFiles) + len(yamlFiles)}
	var errs []error

	if len(cueFiles) > 0 {
		cueErrs := loadCUEDefinitions(dir, mode, result)
		errs = append(errs, cueErrs...)
		if mode == LoadModeFailFast && len(errs) > 0 {
			return result, errs
		}
	}

	for _, file := range yamlFiles {
		if err := loadYAMLDefinition(file, result); err != nil {
			errs = append(errs, err)
			if mode == LoadModeFailFast {
				return result, errs
			}
		}
	}

	if len(result.Definitions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no pattern definitions found"})
	}
	return result, errs
}

// loadCUEDefinitions builds the directory's CUE instance and extracts
// every field under the top-level "pattern" struct.
func loadCUEDefinitions(dir string, mode LoadMode, result *LoadResult) []error {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	patternsVal := value.LookupPath(cue.ParsePath("pattern"))
	if !patternsVal.Exists() {
		return nil
	}

	iter, err := patternsVal.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating patterns: %v", err)}}
	}

	var errs []error
	for iter.Next() {
		name := iter.Label()

		var def pattern.Definition
		if err := iter.Value().Decode(&def); err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("pattern.%s: %v", name, err)})
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		if def.Name == "" {
			def.Name = name
		}

		if err := compileCheck(name, def); err != nil {
			errs = append(errs, err)
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		result.Definitions = append(result.Definitions, NamedDefinition{Name: name, Definition: def})
	}
	return errs
}

// loadYAMLDefinition decodes a single-definition YAML file. The
// definition's store name is the file stem unless the definition
// carries its own name.
func loadYAMLDefinition(file string, result *LoadResult) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return &LoadError{Code: ErrCodeScanError, Message: err.Error(), File: file}
	}

	var def pattern.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("decoding YAML: %v", err), File: file}
	}

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	if def.Name == "" {
		def.Name = name
	}

	if err := compileCheck(name, def); err != nil {
		return err
	}
	result.Definitions = append(result.Definitions, NamedDefinition{Name: name, Definition: def})
	return nil
}

// compileCheck compiles the definition and converts a compile failure
// into a coded LoadError.
func compileCheck(name string, def pattern.Definition) error {
	if _, err := pattern.Compile(def); err != nil {
		var compileErr *pattern.CompileError
		if errors.As(err, &compileErr) {
			return &LoadError{
				Code:    MapFieldToErrorCode(compileErr.Field),
				Message: fmt.Sprintf("pattern %q: field %s: %v", name, compileErr.Field, compileErr.Err),
			}
		}
		return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("pattern %q: %v", name, err)}
	}
	return nil
}

// findDefinitionFiles walks the directory and partitions definition
// files by format.
func findDefinitionFiles(dir string) (cueFiles, yamlFiles []string, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = append(cueFiles, path)
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		}
		return nil
	})
	return cueFiles, yamlFiles, err
}

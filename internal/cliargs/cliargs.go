// Package cliargs decodes an `exec <method> --k=v...` command line
// into a method name and a typed argument map, grounded on SPEC_FULL
// §6's CLI surface. Each value is fed through yaml.Unmarshal, whose
// flow-scalar grammar already covers literal-eval's practical surface
// (ints, floats, bools, null, quoted strings, `[a, b]` lists,
// `{a: 1}` maps) without a hand-rolled parser.
package cliargs

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse splits args (everything after "exec") into the method name and
// a decoded k=v argument map. Flags are accepted as either
// "--k=v" or "k=v"; the method name is the first non-flag token.
func Parse(args []string) (method string, kv map[string]any, err error) {
	kv = map[string]any{}

	for _, arg := range args {
		key, val, isFlag := splitFlag(arg)
		if !isFlag {
			if method != "" {
				return "", nil, fmt.Errorf("cliargs: unexpected positional argument %q", arg)
			}
			method = arg
			continue
		}

		var decoded any
		if err := yaml.Unmarshal([]byte(val), &decoded); err != nil {
			return "", nil, fmt.Errorf("cliargs: decoding %q: %w", arg, err)
		}
		kv[key] = decoded
	}

	if method == "" {
		return "", nil, fmt.Errorf("cliargs: no method given")
	}
	return method, kv, nil
}

func splitFlag(arg string) (key, value string, isFlag bool) {
	trimmed := strings.TrimPrefix(arg, "--")
	idx := strings.Index(trimmed, "=")
	if idx < 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+1:], true
}

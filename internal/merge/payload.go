package merge

import (
	"bufio"
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

type providerFile struct {
	Payload []string `yaml:"payload"`
}

// ExtractPayload returns the list items of a rule-provider file. ok is
// false when data has no top-level "payload:" key.
func ExtractPayload(data []byte) (lines []string, ok bool) {
	if !hasPayloadKey(data) {
		return nil, false
	}
	var pf providerFile
	if err := yaml.Unmarshal(data, &pf); err == nil && pf.Payload != nil {
		return pf.Payload, true
	}
	return scanPayload(data), true
}

func hasPayloadKey(data []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "payload:" || strings.HasPrefix(line, "payload: ") {
			return true
		}
	}
	return false
}

// scanPayload strips list dashes by hand for files yaml.v3 rejects, such as
// entries with unquoted ": " inside.
func scanPayload(data []byte) []string {
	var out []string
	inPayload := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		raw := strings.TrimRight(sc.Text(), " \t\r")
		if strings.HasPrefix(raw, "payload:") {
			inPayload = true
			continue
		}
		if !inPayload {
			continue
		}
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "- "), line == "-":
			item := strings.TrimSpace(strings.TrimPrefix(line, "-"))
			out = append(out, strings.Trim(item, `'"`))
		case raw[0] != ' ' && raw[0] != '\t':
			// 下一个顶层键
			inPayload = false
		}
	}
	return out
}

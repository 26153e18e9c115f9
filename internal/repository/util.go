package repos

import (
	"encoding/json"
	"regexp"
	"strings"
)

// bucketNameRegexp enforces the DNS-safe, lowercase, 3-63
// character bucket name rule.
var bucketNameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func validateBucketName(bucket string) bool {
	return bucketNameRegexp.MatchString(bucket)
}

// escapeLikePattern backslash-escapes the characters ILIKE/LIKE treats
// as metacharacters, so a literal prefix like "50%" or "a_b" is matched
// literally instead of as a wildcard. Pair with `ESCAPE '\'` in the SQL.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// marshalMetadata encodes user metadata for a jsonb column, returning
// nil (SQL NULL) for an empty map rather than the literal string "{}".
func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// unmarshalMetadata decodes a jsonb column back into user metadata. A
// NULL column (empty b) decodes to a nil map.
func unmarshalMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

package mimeword

import (
	"net/url"
	"strconv"
	"strings"
)

// Param returns the decoded value of the plain parameter key, RFC 2047
// encoded-words in the value are decoded.
// params must have lower-case keys.
func (d *Decoder) Param(params map[string]string, key string) (string, bool) {
	v, ok := params[strings.ToLower(key)]
	if !ok {
		return "", false
	}

	return d.Decode(v), true
}

// ExtendedParam returns the value of the RFC 2231 form of the parameter key.
// It is either a single "key*" parameter or a sequence of continuations
// "key*0", "key*1", ..., each optionally followed by "*" when its value is
// percent encoded. The charset of the first encoded segment
// ("charset'language'value") is converted to the decoder's charset.
// params must have lower-case keys.
func (d *Decoder) ExtendedParam(params map[string]string, key string) (string, bool) {
	key = strings.ToLower(key)

	if v, ok := params[key+"*"]; ok {
		cs, value := splitExtValue(v)
		if cs == "" && value == v {
			return d.Decode(v), true
		}
		return d.conv.Convert(percentDecode(value), cs, d.charset), true
	}

	var buf []byte
	var cs string
	var extended bool
	found := false

	for n := 0; ; n++ {
		k := key + "*" + strconv.Itoa(n)

		if v, ok := params[k+"*"]; ok {
			if n == 0 {
				cs, v = splitExtValue(v)
			}
			buf = append(buf, percentDecode(v)...)
			extended = true
			found = true
			continue
		}

		if v, ok := params[k]; ok {
			buf = append(buf, v...)
			found = true
			continue
		}

		break
	}

	if !found {
		return "", false
	}

	if !extended {
		return d.Decode(string(buf)), true
	}

	return d.conv.Convert(buf, cs, d.charset), true
}

// splitExtValue splits an RFC 2231 extended value into its charset and the
// encoded value, the language is dropped.
// If v is not in the charset'language'value form, an empty charset and v
// are returned.
func splitExtValue(v string) (cs string, value string) {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return "", v
	}

	return parts[0], parts[2]
}

func percentDecode(s string) []byte {
	res, err := url.PathUnescape(s)
	if err != nil {
		return []byte(s)
	}

	return []byte(res)
}

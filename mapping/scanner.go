package mapping

import "strings"

// scanner walks a raw template left to right with an explicit cursor. Each call to
// next consumes one literal and, if present, the placeholder that follows it.
type scanner struct {
	src string
	pos int
}

// next returns the literal text before the next placeholder and that placeholder's key.
// more is false when the literal is the trailing one and no placeholder follows.
func (s *scanner) next() (literal, key string, more bool, err error) {
	rest := s.src[s.pos:]

	open := strings.Index(rest, Prefix)
	if open < 0 {
		s.pos = len(s.src)
		return rest, "", false, nil
	}

	keyStart := open + len(Prefix)
	keyLen := strings.Index(rest[keyStart:], Postfix)
	if keyLen < 0 {
		return "", "", false, &MalformedTemplateError{Offset: s.pos + open}
	}

	literal = rest[:open]
	key = rest[keyStart : keyStart+keyLen]
	s.pos += keyStart + keyLen + len(Postfix)
	return literal, key, true, nil
}

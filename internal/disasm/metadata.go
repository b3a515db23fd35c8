package disasm

import "regexp"

// metadataTrailers lists the compiler metadata trailer shapes recognized by
// spec.md §6. Each is matched as a suffix of the code; among all patterns
// that match, the one whose match starts earliest (the longest suffix)
// wins. Patterns are anchored to the end of the
// string ($) so a partial match inside the code body is never stripped.
var metadataTrailers = []*regexp.Regexp{
	regexp.MustCompile(`a165627a7a72305820[0-9a-fA-F]{64}0029$`),
	regexp.MustCompile(`a265627a7a72305820[0-9a-fA-F]{64}6c6578706572696d656e74616cf50037$`),
	regexp.MustCompile(`a265627a7a72305820[0-9a-fA-F]{64}64736f6c6343[0-9a-fA-F]{6}0032$`),
	regexp.MustCompile(`a365627a7a72305820[0-9a-fA-F]{64}6c6578706572696d656e74616cf564736f6c6343[0-9a-fA-F]{6}0040$`),
	regexp.MustCompile(`a265627a7a72315820[0-9a-fA-F]{64}64736f6c6343[0-9a-fA-F]{6}0032$`),
	regexp.MustCompile(`a365627a7a72315820[0-9a-fA-F]{64}6c6578706572696d656e74616cf564736f6c6343[0-9a-fA-F]{6}0040$`),
	regexp.MustCompile(`a264697066735822[0-9a-fA-F]{68}64736f6c6343[0-9a-fA-F]{6}0032$`),
	regexp.MustCompile(`a264697066735822[0-9a-fA-F]{68}64736f6c6343[0-9a-fA-F]{6}0033$`),
}

// stripMetadataTrailer removes the longest matching compiler metadata
// trailer from the hex string hx (no "0x" prefix, even length). It returns
// the trimmed string unchanged if no pattern matches.
func stripMetadataTrailer(hx string) string {
	best := -1
	for _, re := range metadataTrailers {
		loc := re.FindStringIndex(hx)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
		}
	}
	if best == -1 {
		return hx
	}
	return hx[:best]
}

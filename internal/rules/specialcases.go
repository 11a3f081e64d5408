package rules

// Special-case tables for the laterality rule. Kept as data so new
// procedure quirks are one-line additions.

// extraModifiers lists modifiers that always accompany a laterality
// modifier on specific procedures.
var extraModifiers = map[string][]string{
	// Shoulder X-ray is billed as a distinct procedural service
	"73030": {"59"},
}

// pairing describes a procedure whose sibling code must carry the opposite
// laterality modifier, with a diagnosis rewrite on the sibling.
type pairing struct {
	Sibling              string
	ReplacementDiagnosis string
}

// pairings maps procedure codes to their paired sibling. Bilateral knee
// X-rays are split across 73564 (primary side) and 73560 (contralateral),
// and the sibling's diagnosis becomes an encounter-for-exam code.
var pairings = map[string]pairing{
	"73564": {Sibling: "73560", ReplacementDiagnosis: "Z0189"},
}

// oppositeLaterality maps RT to LT and back. Bilateral ("50") has no
// opposite and never triggers pairing.
func oppositeLaterality(modifier string) (string, bool) {
	switch modifier {
	case "RT":
		return "LT", true
	case "LT":
		return "RT", true
	default:
		return "", false
	}
}

package ontology

import (
	"regexp"
	"strings"
)

// Classification categories, in evaluation priority order.
const (
	CategoryUNSystem           = "un_system"
	CategoryIntergovernmental  = "intergovernmental"
	CategoryNationalGovernment = "national_government"
	CategoryUniversity         = "university"
	CategoryNGO                = "ngo"
	CategoryPrivate            = "private"
	CategoryOther              = "other"
)

// Keyword tables. Each list holds lowercase substrings matched against the
// case-folded raw name; the first category with a hit wins.

var unSystemKeywords = []string{
	"united nations", "un ", " un ", "(un)", "un-", "un:",
	"undp", "unicef", "unesco", "who ", "unhcr", "wfp", "unfpa",
	"ilo", "fao", "iaea", "imo ", "itu ", "wmo", "wipo", "ifad",
	"unep", "unctad", "unaids", "unops", "unido", "unwomen", "un women",
	"unodc", "ohchr", "ocha", "unrwa", "unhabitat", "habitat ",
	"secretary-general", "secretary general",
	"general assembly", "security council", "ecosoc",
	"economic and social council", "trusteeship council",
	"un secretariat", "office of the united nations",
	"world food programme", "world health organization",
	"international labour", "food and agriculture organization",
	"international atomic energy",
	"un high commissioner", "high commissioner for refugees",
	"international maritime organization",
	"international telecommunication union",
	"world meteorological organization",
	"world intellectual property",
	"international fund for agricultural",
	"un environment programme",
	"un conference on trade",
	"joint united nations programme",
}

var intergovernmentalKeywords = []string{
	"world bank", "international monetary fund", " imf", "imf ",
	"nato", "north atlantic treaty",
	"european union", " eu ", "(eu)", "council of the european",
	"african union", " au ", "african development bank",
	"asian development bank", "inter-american development bank",
	"islamic development bank",
	"oecd", "organisation for economic co-operation",
	"wto", "world trade organization",
	"g7 ", "g8 ", "g20 ", " g7", " g8", " g20",
	"commonwealth of nations", "british commonwealth",
	"organization of american states", " oas",
	"arab league", "league of arab states",
	"council of europe",
	"apec", "asean", "sco ", "brics",
	"international criminal court", " icc ",
	"international court of justice",
	"bank for international settlements",
	"international finance corporation",
	"multilateral investment guarantee",
	"international development association",
	"international bank for reconstruction",
	"european central bank",
	"european commission", "european parliament", "european council",
	"organization for security and co-operation",
	"organisation of islamic cooperation",
	"economic community of west african",
	"southern african development community",
	"association of southeast asian",
	"shanghai cooperation",
	"mercosur", "mercosul",
	"gulf cooperation council",
	"caribbean community", "caricom",
	"pacific islands forum",
	"intergovernmental panel on climate",
	" ipcc",
}

// Generic "bank of " entries live here so priority order beats the generic
// "bank " token in the private list.
var nationalGovKeywords = []string{
	"parliament", "parliamentary",
	"ministry", "minister of",
	"cabinet of", "state cabinet",
	"government of", "govt of",
	"presidency", "president of",
	"prime minister", "premier of",
	"chancellor of",
	"senate ", "congress ",
	"national assembly", "legislative assembly",
	"house of representatives", "house of commons", "house of lords",
	"department of ",
	"federal government", "federal ministry",
	"national government",
	"royal government",
	"imperial government",
	"ambassador", "embassy", "high commission",
	"consulate",
	"foreign affairs", "foreign ministry",
	"central bank of", "bank of england", "bank of japan",
	"bank of canada", "bank of australia", "bank of russia",
	"bank of china", "bank of india", "bank of mexico",
	"bank of korea", "banque de france", "bundesbank",
	"reserve bank", "national bank of",
	"supreme court of", "constitutional court",
	"armed forces", "military of",
	"department of defense", "ministry of defense", "ministry of defence",
	"national security",
	"state department",
	"whitehall",
	"10 downing street", "number 10",
	"élysée", "elysée",
	"kremlin",
	"capitol hill",
	"provincial government", "state government",
	"municipality", "city government", "city council",
}

// "academy" alone is excluded: national science academies are not
// universities. Only specific educational forms are listed.
var universityKeywords = []string{
	"university", "université", "universität", "universiteit",
	"universidad", "università", "universidade",
	"college of ", "college,", " college",
	"institute of technology",
	"school of business", "school of law", "school of medicine",
	"school of public", "school of economics",
	"faculty of",
	"polytechnic",
	"conservatory",
	"seminary",
	"graduate school",
	"business school",
	"law school",
	"medical school",
	"dental school",
	"engineering school",
	"madrasa", "madrasah",
	"ecole ", "école ",
	"hochschule",
	"fachhochschule",
	"academy of fine arts",
	"military academy",
	"naval academy",
	"air force academy",
}

var ngoKeywords = []string{
	"foundation",
	"think tank",
	"institute for",
	"institute of international",
	"institute on",
	"council on ",
	"council for ",
	"center for", "centre for",
	"research institute",
	"research center", "research centre",
	"international committee",
	"international federation",
	"international alliance",
	"red cross", "red crescent",
	"amnesty international",
	"oxfam",
	"greenpeace",
	"médecins sans frontières", "doctors without borders",
	"human rights watch",
	"transparency international",
	"save the children",
	"world wildlife fund", "wwf",
	"care international",
	"action aid",
	"programme for ",
	"program for ",
	"alliance for ",
	"partnership for ",
	"global fund",
	"initiative for ",
	"campaign for ",
	"society for ",
	"association for ",
	"federation of ",
	"network of ",
	"coalition for ",
	"forum for ",
	"platform for ",
	"lab for ", " poverty action lab",
	"policy lab",
	"brookings", "rand corporation", "chatham house",
	"carnegie endowment", "wilson center",
	"peterson institute",
	"atlantic council",
	"council of foreign relations", "council on foreign relations",
	"international crisis group",
	"transparency", "accountability",
	"africa-america institute",
	"non-governmental", "ngo",
}

var privateKeywords = []string{
	" inc.", " inc,", " incorporated",
	" corp.", " corporation",
	" ltd.", " limited",
	" llc", " llp",
	" plc",
	" s.a.", " s.a,",
	" gmbh",
	" ag ",
	" n.v.",
	" p.l.c",
	"holdings",
	"group plc", "group inc", "group corp",
	" consulting", " consultancy",
	" advisory",
	"media group", "news group",
	"broadcasting corporation", "television network",
	"newspaper", "magazine", " press",
	"bank ",
	"financial services",
	"investment bank", "investment firm",
	"hedge fund", "private equity",
	"venture capital",
	"pharmaceutical", "pharmaceuticals",
	"oil company", "energy company",
	"telecommunications",
	"technology company", "tech company",
	"carlton", "reuters", "bloomberg",
	"mckinsey", "bain ", "bcg ",
	"deloitte", "pwc", "ernst & young", "kpmg",
	"goldman sachs", "morgan stanley", "jp morgan", "jpmorgan",
	"citibank", "citigroup", "barclays", "hsbc", "deutsche bank",
	"ubs ", "credit suisse",
}

// Names that hit a private keyword but are public or multilateral banks.
var privateExclusions = []string{
	"world bank",
	"central bank",
	"bank of england", "bank of japan", "bank of canada",
	"bank of australia", "bank of russia", "bank of china",
	"bank of india", "bank of mexico", "bank of korea",
	"reserve bank",
	"national bank",
	"international bank",
	"african development bank",
	"asian development bank",
	"inter-american development bank",
	"islamic development bank",
	"bank for international",
	"european central bank",
}

// Structural patterns for cases the keyword tables miss.
var (
	ordinalParliamentRe = regexp.MustCompile(`(?i)\b\d+(st|nd|rd|th)\s+(parliament|national assembly|legislative assembly)\b`)
	awardSuffixRe       = regexp.MustCompile(`(?i)\b(prize|award|fellowship|medal|scholarship|grant)\s*$`)
	awardGiverRe        = regexp.MustCompile(`(?i)\b(nobel|pulitzer|guggenheim|sloan|macarthur|wolf |turing|fields medal|lasker|templeton|ramón cajal|shaw prize|tang prize)\b`)
)

func containsAny(nameLower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(nameLower, kw) {
			return true
		}
	}
	return false
}

// ClassifyByKeywords tests the raw name against the keyword tables in
// priority order. Returns "" when nothing matches.
func ClassifyByKeywords(rawName string) string {
	nameLower := strings.ToLower(rawName)

	switch {
	case containsAny(nameLower, unSystemKeywords):
		return CategoryUNSystem
	case containsAny(nameLower, intergovernmentalKeywords):
		return CategoryIntergovernmental
	case containsAny(nameLower, nationalGovKeywords):
		return CategoryNationalGovernment
	case containsAny(nameLower, universityKeywords):
		return CategoryUniversity
	case containsAny(nameLower, ngoKeywords):
		return CategoryNGO
	case containsAny(nameLower, privateKeywords) && !containsAny(nameLower, privateExclusions):
		return CategoryPrivate
	}
	return ""
}

// ClassifyByStructure applies the regex rules. Returns "" on no match.
func ClassifyByStructure(rawName string) string {
	if ordinalParliamentRe.MatchString(rawName) {
		return CategoryNationalGovernment
	}
	if awardSuffixRe.MatchString(rawName) || awardGiverRe.MatchString(rawName) {
		return CategoryOther
	}
	return ""
}

// Classify returns the category for a raw organization name: keyword rules
// first, then structural patterns, then the other bucket.
func Classify(rawName string) string {
	if strings.TrimSpace(rawName) == "" {
		return CategoryOther
	}
	if c := ClassifyByKeywords(rawName); c != "" {
		return c
	}
	if c := ClassifyByStructure(rawName); c != "" {
		return c
	}
	return CategoryOther
}

// ValidCategory reports whether s is one of the seven categories.
func ValidCategory(s string) bool {
	switch s {
	case CategoryUNSystem, CategoryIntergovernmental, CategoryNationalGovernment,
		CategoryUniversity, CategoryNGO, CategoryPrivate, CategoryOther:
		return true
	}
	return false
}

// MetaTypeFor maps a category to the stored meta_type.
func MetaTypeFor(category string) string {
	switch category {
	case CategoryUNSystem, CategoryIntergovernmental:
		return MetaIO
	case CategoryNationalGovernment:
		return MetaGov
	case CategoryUniversity:
		return MetaUniversity
	case CategoryNGO:
		return MetaNGO
	case CategoryPrivate:
		return MetaPrivate
	}
	return MetaOther
}

// SearchMetaTypeFor maps a category to the ontology subset the matcher
// should search. An empty result means search the whole ontology.
func SearchMetaTypeFor(category string) string {
	switch category {
	case CategoryUNSystem, CategoryIntergovernmental:
		return MetaIO
	case CategoryNationalGovernment:
		return MetaGov
	case CategoryUniversity:
		return MetaUniversity
	}
	return ""
}

// OrgTypesFor maps a category to the org_types list for stub creation.
func OrgTypesFor(category string) []string {
	switch category {
	case CategoryUNSystem:
		return []string{"international_organization"}
	case CategoryIntergovernmental:
		return []string{"intergovernmental_organization"}
	case CategoryNationalGovernment:
		return []string{"government"}
	case CategoryUniversity:
		return []string{"university"}
	case CategoryNGO:
		return []string{"ngo"}
	case CategoryPrivate:
		return []string{"private_sector"}
	}
	return []string{"other"}
}

// SectorFor maps a category to the sector string for stub creation.
func SectorFor(category string) string {
	switch category {
	case CategoryUNSystem, CategoryIntergovernmental:
		return "intergovernmental"
	case CategoryNationalGovernment:
		return "government"
	case CategoryUniversity:
		return "academia"
	case CategoryNGO:
		return "ngo"
	case CategoryPrivate:
		return "private"
	}
	return "other"
}

package mapping

import (
	"sort"
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/tenoris360-importer/internal/domain/import/schema"
)

// Header synonyms per field, lower-case, Italian and English
var commonKeywords = map[string][]string{
	"address":     {"indirizzo", "address", "via", "ubicazione"},
	"city":        {"città", "citta", "comune", "località", "city", "town"},
	"status":      {"stato", "status"},
	"notes":       {"note", "notes", "annotazioni", "osservazioni"},
	"description": {"descrizione", "description", "dettagli", "details"},
	"type":        {"tipo", "tipologia", "type"},
	"property_id": {"immobile", "proprietà", "property", "appartamento", "unità", "struttura"},
	"tenant_id":   {"inquilino", "conduttore", "locatario", "tenant"},
}

var entityKeywords = map[schema.EntityType]map[string][]string{
	schema.EntityProperty: {
		"name":           {"nome", "name", "denominazione"},
		"short_name":     {"sigla", "nome breve", "abbreviazione", "short name", "codice"},
		"postal_code":    {"cap", "postal", "zip", "codice postale"},
		"province":       {"provincia", "province", "prov"},
		"country":        {"nazione", "paese", "stato estero", "country"},
		"rooms":          {"locali", "stanze", "vani", "camere", "rooms"},
		"bathrooms":      {"bagni", "servizi", "bathrooms"},
		"square_meters":  {"mq", "metri quadri", "superficie", "square meters", "sqm"},
		"purchase_date":  {"data acquisto", "data di acquisto", "purchase date"},
		"purchase_price": {"prezzo", "prezzo acquisto", "costo acquisto", "purchase price"},
	},
	schema.EntityTenant: {
		"first_name": {"nome", "first name", "firstname"},
		"last_name":  {"cognome", "last name", "lastname", "surname", "ragione sociale"},
		"email":      {"email", "e-mail", "mail", "posta"},
		"phone":      {"telefono", "cellulare", "tel", "phone", "mobile"},
		"tax_code":   {"codice fiscale", "cod. fiscale", "cf", "partita iva", "tax code"},
		"birth_date": {"data di nascita", "nascita", "birth date", "birthday"},
	},
	schema.EntityContract: {
		"contract_number":   {"numero contratto", "n. contratto", "contratto", "contract number", "contract"},
		"start_date":        {"data inizio", "inizio", "decorrenza", "start date", "start"},
		"end_date":          {"data fine", "fine", "scadenza", "end date", "end"},
		"monthly_rent":      {"canone", "affitto", "canone mensile", "monthly rent", "rent"},
		"deposit":           {"deposito", "cauzione", "deposit"},
		"payment_day":       {"giorno pagamento", "giorno di pagamento", "payment day"},
		"registration_date": {"data registrazione", "registrazione", "registration date"},
	},
	schema.EntityTransaction: {
		"date":           {"data", "date", "data operazione", "data valuta", "giorno"},
		"amount":         {"importo", "amount", "valore", "totale", "somma"},
		"type":           {"tipo", "tipologia", "type", "segno", "entrata/uscita"},
		"category":       {"categoria", "category", "voce"},
		"description":    {"descrizione", "description", "causale", "dettagli", "memo"},
		"income_column":  {"entrate", "entrata", "accrediti", "avere", "incassi", "income", "credit"},
		"expense_column": {"uscite", "uscita", "addebiti", "dare", "spese", "expense", "debit"},
	},
}

// Scores: an exact field name beats a keyword equal to the whole header,
// which beats a keyword found inside the header, which beats a fuzzy match.
const (
	scoreFieldName   = 1000
	scoreWholeHeader = 500
	scoreFuzzy       = 1
)

type keyword struct {
	field string
	text  string
}

// Suggester proposes a first mapping from header names
type Suggester struct {
	entity   schema.EntityType
	fields   []string
	keywords []keyword
	matcher  *ahocorasick.Matcher
}

// NewSuggester builds the keyword automaton for entity
func NewSuggester(entity schema.EntityType) *Suggester {
	fields := schema.For(entity).Fields
	s := &Suggester{entity: entity, fields: fields}

	for _, field := range fields {
		words := append([]string(nil), entityKeywords[entity][field]...)
		words = append(words, commonKeywords[field]...)
		for _, w := range words {
			s.keywords = append(s.keywords, keyword{field: field, text: w})
		}
	}

	patterns := make([][]byte, len(s.keywords))
	for i, k := range s.keywords {
		patterns[i] = []byte(k.text)
	}
	s.matcher = ahocorasick.NewMatcher(patterns)
	return s
}

// Suggest is a convenience wrapper around NewSuggester(entity).Suggest(headers)
func Suggest(entity schema.EntityType, headers []string) ColumnMapping {
	return NewSuggester(entity).Suggest(headers)
}

type candidate struct {
	header    int
	field     int
	score     int
	headerStr string
	fieldStr  string
}

// Suggest maps each field to at most one header and each header to at most one
// field, taking the strongest candidates first. Unmatched fields are ignored.
func (s *Suggester) Suggest(headers []string) ColumnMapping {
	fieldIndex := make(map[string]int, len(s.fields))
	for i, f := range s.fields {
		fieldIndex[f] = i
	}

	var candidates []candidate
	hasKeyword := make(map[int]bool)

	for hi, header := range headers {
		norm := normalizeHeader(header)
		if norm == "" {
			continue
		}

		best := make(map[string]int)
		if fi, ok := fieldIndex[strings.ReplaceAll(norm, " ", "_")]; ok {
			best[s.fields[fi]] = scoreFieldName
		}
		for _, idx := range s.matcher.Match([]byte(norm)) {
			k := s.keywords[idx]
			if !containsWord(norm, k.text) {
				continue
			}
			score := len(k.text)
			if norm == k.text {
				score += scoreWholeHeader
			}
			if score > best[k.field] {
				best[k.field] = score
			}
		}

		for field, score := range best {
			hasKeyword[hi] = true
			candidates = append(candidates, candidate{header: hi, field: fieldIndex[field], score: score, headerStr: header, fieldStr: field})
		}
	}

	// Abbreviated headers such as "Descr." or "Cat" fall back to a fuzzy
	// subsequence match against the field name.
	for hi, header := range headers {
		norm := lettersOnly(header)
		if hasKeyword[hi] || len(norm) < 3 {
			continue
		}
		for fi, field := range s.fields {
			label := strings.ReplaceAll(field, "_", "")
			if fuzzy.RankMatchNormalizedFold(norm, label) >= 0 {
				candidates = append(candidates, candidate{header: hi, field: fi, score: scoreFuzzy, headerStr: header, fieldStr: field})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.header != b.header {
			return a.header < b.header
		}
		return a.field < b.field
	})

	m := New(s.entity)
	usedHeader := make(map[int]bool)
	usedField := make(map[int]bool)
	for _, c := range candidates {
		if usedHeader[c.header] || usedField[c.field] {
			continue
		}
		usedHeader[c.header] = true
		usedField[c.field] = true
		m[c.fieldStr] = c.headerStr
	}
	return m
}

// normalizeHeader lower-cases and collapses whitespace and separators
func normalizeHeader(h string) string {
	h = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' || r == '-' || r == '.':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, h)
	return strings.Join(strings.Fields(h), " ")
}

func lettersOnly(h string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, h)
}

// containsWord reports whether kw occurs in s on word boundaries, so that
// "tel" does not match "hotel".
func containsWord(s, kw string) bool {
	for start := 0; start <= len(s)-len(kw); {
		idx := strings.Index(s[start:], kw)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(kw)
		if (idx == 0 || !isWordByte(s[idx-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		start = idx + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

package service

import (
	"regexp"
	"strings"
)

var (
	englishWords    = regexp.MustCompile(`(?i)\b(hi|hello|hey|how|what|where|when|why|can|could|would|should|the|is|are|do|does|have|has|yes|no|please|thanks|thank|you|your|need|help|want|looking|business|company)\b`)
	spanishWords    = regexp.MustCompile(`(?i)\b(hola|como|estas|donde|cuando|porque|puedo|quiero|necesito|gracias|bueno|bien|empresa|negocio|ayuda|por favor|tengo|tiene|hacer|estoy)\b`)
	portugueseWords = regexp.MustCompile(`(?i)\b(oi|ola|tudo|bem|como|voce|onde|quando|porque|preciso|quero|obrigado|bom|empresa|ajuda|por favor|tenho|tem|fazer|estou|nao|sim)\b`)
)

// DetectLanguage guesses pt, en, or es from marker-word counts. Ties and
// empty input fall back to pt, the deployment's dominant language.
func DetectLanguage(text string) string {
	t := strings.ToLower(text)
	en := len(englishWords.FindAllString(t, -1))
	es := len(spanishWords.FindAllString(t, -1))
	pt := len(portugueseWords.FindAllString(t, -1))

	best, lang := pt, "pt"
	if es > best {
		best, lang = es, "es"
	}
	if en > best {
		best, lang = en, "en"
	}
	if best == 0 {
		return "pt"
	}
	return lang
}

var fakeNames = map[string]struct{}{
	"automation": {}, "bot": {}, "business": {}, "company": {}, "enterprise": {},
	"admin": {}, "test": {}, "teste": {}, "user": {}, "usuario": {}, "client": {},
	"cliente": {}, "support": {}, "suporte": {}, "info": {}, "contact": {},
	"contato": {}, "shop": {}, "store": {}, "loja": {}, "marketing": {},
	"sales": {}, "vendas": {}, "service": {}, "servico": {}, "official": {},
	"oficial": {}, "news": {}, "tech": {}, "digital": {}, "group": {},
	"grupo": {}, "team": {}, "equipe": {}, "manager": {}, "gerente": {},
	"assistant": {}, "assistente": {}, "help": {}, "ajuda": {}, "welcome": {},
	"delivery": {}, "app": {}, "web": {}, "dev": {}, "api": {},
}

var (
	letterPattern   = regexp.MustCompile(`[a-zA-ZÀ-ÿ]`)
	businessPattern = regexp.MustCompile(`(?i)\b(llc|ltd|inc|corp|sa|ltda|eireli|mei|co\.)\b`)
)

// IsRealName reports whether a gateway push name looks like an actual
// person rather than a business label or placeholder. Only real names are
// stored as contact names or spoken back to the contact.
func IsRealName(name string) bool {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < 2 {
		return false
	}
	if _, fake := fakeNames[strings.ToLower(trimmed)]; fake {
		return false
	}
	if !letterPattern.MatchString(trimmed) {
		return false
	}
	if businessPattern.MatchString(strings.ToLower(trimmed)) {
		return false
	}
	return true
}

// FirstName returns the leading token of a real name, or empty when the
// name does not pass IsRealName.
func FirstName(name string) string {
	if !IsRealName(name) {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

package funnel

import (
	"regexp"
	"strings"
)

// Intent is the regex-classified reading of one inbound message. The
// dotted prefix groups intents into families the transition guards act on.
type Intent string

const (
	IntentNone Intent = ""

	IntentObjectionPrice   Intent = "objection.price"
	IntentObjectionTime    Intent = "objection.time"
	IntentObjectionThink   Intent = "objection.think"
	IntentObjectionPartner Intent = "objection.partner"
	IntentObjectionTried   Intent = "objection.tried"
	IntentObjectionLater   Intent = "objection.later"

	IntentSituationURL     Intent = "situation.url"
	IntentSituationNoSite  Intent = "situation.no_site"
	IntentSituationConfuse Intent = "situation.confused"
	IntentSituationHurried Intent = "situation.hurried"

	IntentTechnicalSupport Intent = "technical.support"
	IntentTechnicalDev     Intent = "technical.dev"

	IntentBillingPayment Intent = "billing.payment"
	IntentBillingPlan    Intent = "billing.plan"

	IntentClosing  Intent = "closing"
	IntentProposal Intent = "proposal"
)

// Family predicates used by the transition guards.

func (i Intent) IsObjection() bool { return strings.HasPrefix(string(i), "objection.") }

func (i Intent) IsTechnical() bool { return strings.HasPrefix(string(i), "technical.") }

func (i Intent) IsBilling() bool { return strings.HasPrefix(string(i), "billing.") }

// classifierEntry keeps declaration order: most specific intents first,
// so an objection is never misread as generic proposal interest.
type classifierEntry struct {
	intent  Intent
	pattern *regexp.Regexp
}

var classifierTable = []classifierEntry{
	{IntentObjectionPrice, regexp.MustCompile(`(?i)\b(caro|preco|valor|custo|investimento|quanto custa|expensive|price|muito caro|custa quanto|fora do orcamento|budget)\b`)},
	{IntentObjectionTime, regexp.MustCompile(`(?i)\b(sem tempo|nao tenho tempo|ocupado|mais tarde|another time|too busy|no time)\b`)},
	{IntentObjectionThink, regexp.MustCompile(`(?i)\b(vou pensar|preciso pensar|deixa eu pensar|avaliar|analisar|think about|let me think|need to think)\b`)},
	{IntentObjectionPartner, regexp.MustCompile(`(?i)\b(socio|parceiro|partner|falar com|consultar|esposa|marido|business partner|co-founder)\b`)},
	{IntentObjectionTried, regexp.MustCompile(`(?i)\b(ja tentei|tentei|nao funcionou|nao deu certo|deu errado|tried before|didnt work|didnt help|already tried)\b`)},
	{IntentObjectionLater, regexp.MustCompile(`(?i)\b(vou ver depois|depois eu vejo|mais pra frente|agora nao|outro momento|outra hora|maybe later|not now|later)\b`)},

	{IntentSituationURL, regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)},
	{IntentSituationNoSite, regexp.MustCompile(`(?i)\b(nao tenho site|sem site|no website|dont have a site|nao tenho pagina|sem pagina)\b`)},
	{IntentSituationConfuse, regexp.MustCompile(`(?i)\b(nao entendi|como assim|nao compreendi|pode explicar|explica|confused|dont understand|what do you mean)\b`)},
	{IntentSituationHurried, regexp.MustCompile(`(?i)\b(rapido|direto|resumo|resume|objetivo|sem enrolacao|quick|straight to the point|briefly|tldr)\b`)},

	{IntentTechnicalSupport, regexp.MustCompile(`(?i)\b(suporte|tecnico|tecnica|bug|erro|nao funciona|travou|problema tecnico|configuracao|instalar|integrar|api|sistema|plataforma|painel|dashboard|technical|support|setup|configure|integration|not working|broken)\b`)},
	{IntentTechnicalDev, regexp.MustCompile(`(?i)\b(desenvolvimento|programacao|codigo|webhook|endpoint|servidor|deploy|hosting|dominio|ssl|dns|development|code|server)\b`)},

	{IntentBillingPayment, regexp.MustCompile(`(?i)\b(pagamento|pagar|boleto|cartao|pix|fatura|cobranca|nota fiscal|nf|recibo|reembolso|estorno|cancelar assinatura|payment|invoice|billing|refund|cancel subscription|credit card)\b`)},
	{IntentBillingPlan, regexp.MustCompile(`(?i)\b(assinatura|mensalidade|anual|trimestral|trial|teste gratis|subscription|free trial)\b`)},

	{IntentClosing, regexp.MustCompile(`(?i)\b(fechar|contratar|comprar|assinar|comecar|vamos la|quero comecar|fecha|deal|buy|sign up|lets go|lets start)\b`)},
	{IntentProposal, regexp.MustCompile(`(?i)\b(como funciona|quanto fica|proposta|orcamento|planos|me explica|tell me more|how does it work|proposal|quote)\b`)},
}

// Classify maps a user message to an intent by walking the table in
// order. No match means the guards fall back to accumulated facts.
func Classify(text string) Intent {
	msg := strings.TrimSpace(text)
	if msg == "" {
		return IntentNone
	}
	for _, entry := range classifierTable {
		if entry.pattern.MatchString(msg) {
			return entry.intent
		}
	}
	return IntentNone
}

// Fact-extraction patterns feeding guard data.

var (
	businessTypePattern = regexp.MustCompile(`(?i)\b(loja|restaurante|clinica|consultorio|escritorio|padaria|academia|salao|barbearia|imobiliaria|advocacia|contabilidade|dentista|mecanica|oficina|farmacia|pet|veterinaria|escola|creche|ecommerce|e-commerce|dropshipping|saas|startup|agencia|tecnologia|desenvolvimento|marketing|consultoria|alimentacao|saude|educacao|moda|beleza|fitness|servicos|construcao|arquitetura|engenharia|transporte|logistica|store|shop|clinic|office|restaurant|agency|tech|health)\b`)
	painPointPattern    = regexp.MustCompile(`(?i)\b(perco|perdendo|demora|demoro|lento|manual|planilha|desorganiz|nao consigo|dificuldade|problema|gargalo|atendimento|cliente sumiu|cliente some|nao responde|falta|preciso de|quero melhorar|quero automatizar|quero crescer|quero escalar|lose|losing|slow|disorganized|bottleneck)\b`)
	interestPattern     = regexp.MustCompile(`(?i)\b(quero saber mais|me explica|como funciona|quanto custa|quanto fica|proposta|orcamento|valores|planos|me mostra|demonstra|demonstracao|demo|teste|tell me more|how does it work|pricing|proposal)\b`)
	dealPattern         = regexp.MustCompile(`(?i)\b(fechado|fechar|vamos|contrato|assinar|comprar|contratar|quando comeca|vamos comecar|fecha|manda o link|pix|deal|sign|buy|lets go|start|closed)\b`)
	resolvedPattern     = regexp.MustCompile(`(?i)\b(resolvido|funcionou|consegui|deu certo|obrigado|valeu|era isso|pronto|ok|perfeito|resolved|fixed|working|thanks)\b`)
)

// MentionsBusinessType reports whether the text names a line of business.
func MentionsBusinessType(text string) bool { return businessTypePattern.MatchString(text) }

// MentionsPainPoint reports whether the text describes an operational pain.
func MentionsPainPoint(text string) bool { return painPointPattern.MatchString(text) }

func mentionsInterest(text string) bool { return interestPattern.MatchString(text) }

func mentionsDeal(text string) bool { return dealPattern.MatchString(text) }

func mentionsResolved(text string) bool { return resolvedPattern.MatchString(text) }

package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Intent
	}{
		{"empty", "", IntentNone},
		{"plain greeting", "oi, tudo bem?", IntentNone},
		{"price objection pt", "achei muito caro isso", IntentObjectionPrice},
		{"price objection en", "that is too expensive for me", IntentObjectionPrice},
		{"time objection", "estou sem tempo agora", IntentObjectionTime},
		{"think objection", "vou pensar e te falo", IntentObjectionThink},
		{"partner objection", "preciso falar com meu socio", IntentObjectionPartner},
		{"tried objection", "ja tentei isso e nao funcionou", IntentObjectionTried},
		{"later objection", "agora nao, outro momento", IntentObjectionLater},
		{"url situation", "meu site e https://minhaloja.com.br", IntentSituationURL},
		{"no site situation", "nao tenho site ainda", IntentSituationNoSite},
		{"hurried situation", "vai direto ao ponto por favor", IntentSituationHurried},
		{"technical support", "o painel travou e da erro", IntentTechnicalSupport},
		{"technical dev", "como configuro o webhook no servidor", IntentTechnicalDev},
		{"billing payment", "nao recebi o boleto desse mes", IntentBillingPayment},
		{"billing plan", "quanto fica a mensalidade do plano anual", IntentBillingPlan},
		{"closing", "bora fechar, pode assinar", IntentClosing},
		{"proposal", "pode me mandar uma proposta?", IntentProposal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassifyObjectionBeatsProposal(t *testing.T) {
	// "quanto custa" reads as both objection.price and proposal interest;
	// the table order makes the objection win.
	assert.Equal(t, IntentObjectionPrice, Classify("quanto custa isso?"))
}

func TestIntentFamilies(t *testing.T) {
	assert.True(t, IntentObjectionPrice.IsObjection())
	assert.True(t, IntentTechnicalDev.IsTechnical())
	assert.True(t, IntentBillingPlan.IsBilling())
	assert.False(t, IntentClosing.IsObjection())
	assert.False(t, IntentNone.IsTechnical())
}

func TestFactExtraction(t *testing.T) {
	assert.True(t, MentionsBusinessType("tenho uma barbearia no centro"))
	assert.True(t, MentionsBusinessType("we run a small startup"))
	assert.False(t, MentionsBusinessType("tudo certo por aqui"))

	assert.True(t, MentionsPainPoint("perco muito cliente por demora"))
	assert.True(t, MentionsPainPoint("everything is manual and slow"))
	assert.False(t, MentionsPainPoint("obrigado pela atencao"))
}

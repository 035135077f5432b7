package triage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func conversationOf(texts ...string) []domain.ChatMessage {
	history := make([]domain.ChatMessage, 0, len(texts)*2)
	for _, text := range texts {
		history = append(history, user(text), bot("Pode tentar reiniciar?"))
	}
	return history
}

func TestEscalationNeverBeforeMinimum(t *testing.T) {
	c := NewRuleClassifier(5)
	urgent := "socorro, continua sem funcionar, quero falar com um atendente urgente"

	for n := 1; n < 5; n++ {
		texts := make([]string, n)
		for i := range texts {
			texts[i] = urgent
		}
		decision := EvaluateEscalation(conversationOf(texts...), c, DefaultPolicy())
		assert.False(t, decision.ShouldEscalate, "escalated after %d messages", n)
		assert.Equal(t, ReasonBelowThreshold, decision.Reason)
	}
}

func TestEscalationOnHumanRequest(t *testing.T) {
	c := NewRuleClassifier(5)
	history := conversationOf(
		"meu computador nao liga",
		"ja tentei outra tomada",
		"o computador segue desligado",
		"tentei segurar o botao",
		"quero falar com um atendente",
	)

	decision := EvaluateEscalation(history, c, DefaultPolicy())
	assert.True(t, decision.ShouldEscalate)
	assert.Equal(t, ReasonUserAskedForHuman, decision.Reason)
	assert.Equal(t, "meu computador nao liga", decision.SuggestedTitle)
	assert.Equal(t, domain.TicketPriorityMedium, decision.Priority)
	assert.Equal(t, domain.CategoryHardware, decision.Category)
	assert.Contains(t, decision.SuggestedDescription, "Usuário: quero falar com um atendente")
}

func TestEscalationOnUnresolvedNeedsStricterCount(t *testing.T) {
	c := NewRuleClassifier(5)

	six := conversationOf("meu computador esta lento", "reiniciei", "fechei os programas",
		"limpei a pasta temp", "desinstalei o jogo", "continua travando")
	decision := EvaluateEscalation(six, c, DefaultPolicy())
	assert.False(t, decision.ShouldEscalate)
	assert.Equal(t, ReasonNoUnresolved, decision.Reason)

	seven := conversationOf("meu computador esta lento", "reiniciei", "fechei os programas",
		"limpei a pasta temp", "desinstalei o jogo", "atualizei o windows", "continua travando")
	decision = EvaluateEscalation(seven, c, DefaultPolicy())
	assert.True(t, decision.ShouldEscalate)
	assert.True(t, strings.HasPrefix(decision.Reason, ReasonUnresolved))
}

func TestEscalationWithoutSignals(t *testing.T) {
	c := NewRuleClassifier(5)
	history := conversationOf("meu computador esta lento", "reiniciei", "fechei os programas",
		"limpei a pasta temp", "desinstalei o jogo", "atualizei o windows", "vou testar")

	decision := EvaluateEscalation(history, c, DefaultPolicy())
	assert.False(t, decision.ShouldEscalate)
	assert.Equal(t, ReasonNoUnresolved, decision.Reason)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{MinUserMessages: 3}.withDefaults()
	assert.Equal(t, 3, p.MinUserMessages)
	assert.Equal(t, 5, p.ProposeTicketMessages)
	assert.Equal(t, 5, p.ContextWindow)
}

func TestSuggestTitle(t *testing.T) {
	assert.Equal(t, "meu computador nao liga",
		SuggestTitle([]domain.ChatMessage{user("oi"), bot("Olá!"), user("  meu computador   nao liga ")}))
	assert.Equal(t, "Atendimento via chat", SuggestTitle(nil))

	long := SuggestTitle([]domain.ChatMessage{user(strings.Repeat("a", 100))})
	assert.Equal(t, strings.Repeat("a", 77)+"...", long)
}

func TestTranscript(t *testing.T) {
	got := Transcript([]domain.ChatMessage{user("impressora travou "), bot("Reinicia ela.")})
	assert.Equal(t, "Usuário: impressora travou\nAssistente: Reinicia ela.", got)
}

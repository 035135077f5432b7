package triage

import (
	"context"
	"errors"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ErrModelUnavailable covers every language-model failure: transport errors,
// timeouts, non-2xx responses and empty completions.
var ErrModelUnavailable = errors.New("language model unavailable")

// LanguageModel generates a reply for the conversation so far.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt string, history []domain.ChatMessage) (string, error)
}

// SystemPrompt is the fixed instruction sent with every completion.
const SystemPrompt = `Você é o assistente virtual do suporte de TI da empresa.
Responda sempre em português do Brasil, com tom informal e amigável.
Use apenas texto simples: sem markdown, sem listas, sem emojis.
Seja breve, no máximo três frases.
Faça uma única pergunta de esclarecimento ou indique um ou dois passos concretos para resolver o problema.
Se o usuário pedir um atendente, diga que vai encaminhar o caso.`

// Fixed replies. outOfScopeReply must not contain IT keywords, otherwise a
// short follow-up to it would be taken as in scope.
const (
	outOfScopeReply = "Desculpe, esse assunto está fora do que eu consigo atender por aqui. Se tiver alguma dificuldade de informática, me diz o que está acontecendo."
	resolvedReply   = "Que bom que deu certo! Vou registrar o atendimento como resolvido. Se precisar de novo, é só chamar."
)

package triage

type solution struct {
	keywords keywordSet
	text     string
}

// solutions are checked in order; more specific symptoms come first.
var solutions = []solution{
	{
		keywords: keywordSet{"tela azul", "bsod"},
		text:     "Tela azul costuma ser driver ou atualização com problema. Anota o código que aparece na tela e reinicia o computador; se voltar a acontecer, me diz qual foi o código.",
	},
	{
		keywords: keywordSet{"nao liga", "nao inicia", "nao da boot", "nao ligou", "nao acende"},
		text:     "Confere se o cabo de energia está bem encaixado na tomada e no computador e tenta outra tomada. Se for notebook, deixa no carregador uns 10 minutos e segura o botão de ligar por 15 segundos antes de tentar de novo.",
	},
	{
		keywords: keywordSet{"impressora", "imprim", "scanner"},
		text:     "Desliga a impressora, espera 30 segundos e liga de novo. Depois abre a fila de impressão no computador e cancela os documentos travados antes de mandar imprimir outra vez.",
	},
	{
		keywords: keywordSet{"senha", "login", "logar", "bloquead", "conta "},
		text:     "Confere se o Caps Lock está desligado e tenta digitar a senha de novo. Se a conta estiver bloqueada, usa a opção de redefinir senha no portal ou me avisa que a gente abre um chamado para o time de acessos.",
	},
	{
		keywords: keywordSet{"internet", "wifi", "wi fi", "rede", "conexao", "conect", "vpn", "roteador"},
		text:     "Desconecta e conecta de novo na rede e, se puder, reinicia o roteador ou o computador. Outros sites ou colegas perto de você também estão sem conexão?",
	},
	{
		keywords: keywordSet{"email", "e mail", "outlook"},
		text:     "Fecha o Outlook e abre de novo, e confere se ele não está no modo offline. Você consegue acessar o e-mail pelo navegador?",
	},
	{
		keywords: keywordSet{"lento", "lentidao", "travando", "travou", "trava"},
		text:     "Fecha os programas que não está usando e reinicia o computador. Se continuar lento, abre o Gerenciador de Tarefas e me diz qual programa está usando mais memória ou CPU.",
	},
	{
		keywords: keywordSet{"virus", "malware", "phishing", "hacker", "invadi"},
		text:     "Desconecta o computador da rede agora e não clica em mais nenhum link ou anexo suspeito. Esse caso precisa de um técnico, posso te encaminhar para um atendente?",
	},
	{
		keywords: keywordSet{"excel", "word", "office", "programa", "software", "aplicativo", "instal"},
		text:     "Fecha o programa, abre de novo e confere se há atualização pendente. Qual mensagem de erro aparece exatamente?",
	},
}

const genericClarification = "Pode me contar um pouco mais? Em qual equipamento ou programa está o problema e qual mensagem aparece na tela?"

// FallbackSolution returns the local canned answer for the first matching
// symptom category, or a generic clarifying question.
func FallbackSolution(text string) string {
	normalized := Normalize(text)
	for _, candidate := range solutions {
		if candidate.keywords.matches(normalized) {
			return candidate.text
		}
	}
	return genericClarification
}

package triage

import "github.com/spec-kit/helpdesk-service/internal/domain"

// All keywords are in normalized form (lower case, no accents).

var itKeywords = keywordSet{
	// hardware
	"computador", "notebook", "laptop", "pc ", "desktop", "monitor", "teclado", "mouse",
	"impressora", "imprim", "scanner", "hardware", "hd ", "ssd", "memoria", "processador",
	"bateria", "carregador", "webcam", "fone", "headset", "celular", "ramal",
	// operating system
	"windows", "linux", "macos", "mac ", "sistema operacional", "atualiza", "driver", "boot",
	"nao liga", "nao inicia", "tela", "travando", "travou", "trava", "lento", "lentidao", "reinici",
	// network
	"rede", "internet", "wifi", "wi fi", "conexao", "conect", "roteador", "vpn", "cabo", "ip ",
	"dns", "proxy", "firewall", "sinal",
	// security and access
	"senha", "login", "logar", "acesso", "acessar", "usuario", "bloquead", "conta ", "virus",
	"malware", "antivirus", "phishing", "hacker", "seguranca", "token", "autentica",
	// productivity software
	"email", "e mail", "outlook", "excel", "word", "powerpoint", "office", "teams", "zoom",
	"navegador", "chrome", "firefox", "edge", "programa", "software", "aplicativo", "app ",
	"instal", "licenca", "planilha", "pdf", "arquivo", "pasta", "backup", "onedrive", "sharepoint",
	// general support
	"servidor", "sistema", "erro", "bug", "ti ", "suporte", "tecnico",
}

// acknowledgements are short neutral follow-ups that only make sense in the
// context of an ongoing IT conversation. Matched against the whole message.
var acknowledgements = map[string]struct{}{
	"sim": {}, "nao": {}, "ok": {}, "okay": {}, "certo": {}, "isso": {}, "isso mesmo": {},
	"claro": {}, "beleza": {}, "blz": {}, "entendi": {}, "pode ser": {}, "ja fiz": {},
	"ja tentei": {}, "tentei": {}, "fiz": {}, "feito": {}, "obrigado": {}, "obrigada": {},
	"valeu": {}, "vlw": {}, "talvez": {}, "nao sei": {}, "ainda nao": {}, "continua": {},
	"pronto": {}, "aham": {}, "uhum": {}, "pois e": {},
}

// strongResolution are explicit confirmations that the problem is gone.
// Polite acknowledgements ("ok", "valeu") are deliberately absent.
var strongResolution = keywordSet{
	"resolveu", "resolvido", "resolvida", "resolvi", "funcionou", "funcionando", "voltou a funcionar",
	"perfeito", "deu certo", "consegui", "tudo certo", "solucionado", "solucionou", "agora foi",
	"ja esta ok", "problema resolvido",
}

// negativeSignals mean the user is still stuck, even if a confirmation word
// appears in the same message.
var negativeSignals = keywordSet{
	"ainda", "nao funcion", "nao resolv", "nao deu", "nao consegu", "nao esta", "nao foi",
	"nao adiantou", "erro", "continua", "persiste", "de novo", "novamente", "piorou",
	"sem sucesso", "mesmo problema",
}

// unresolvedSignals extend negativeSignals with frustration markers used by
// the escalation policy.
var unresolvedSignals = append(keywordSet{
	"problema", "urgente", "nao sei", "nao entendi", "ajuda", "socorro", "parado",
}, negativeSignals...)

// humanRequests are phrase level because "tecnico" alone is also an IT
// keyword ("o tecnico ja veio ontem").
var humanRequests = keywordSet{
	"atendente", "humano ", "humana ", "pessoa ", "pessoa de verdade", "analista ",
	"falar com alguem", "falar com um tecnico", "falar com o tecnico", "falar com tecnico",
	"chamar um tecnico", "chama um tecnico", "quero um tecnico", "preciso de um tecnico",
	"abrir chamado", "abrir um chamado", "abrir ticket",
}

type priorityRule struct {
	keywords keywordSet
	priority domain.TicketPriority
	category domain.TicketCategory
}

// priorityTable is evaluated in order; the first rule with a matching
// keyword wins.
var priorityTable = []priorityRule{
	{
		keywords: keywordSet{"servidor", "sistema fora", "fora do ar", "todos os usuarios", "ninguem consegue", "producao"},
		priority: domain.TicketPriorityCritical,
		category: domain.CategoryInfrastructure,
	},
	{
		keywords: keywordSet{"virus", "malware", "ransomware", "phishing", "hacker", "invadi", "vazamento"},
		priority: domain.TicketPriorityCritical,
		category: domain.CategorySecurity,
	},
	{
		keywords: keywordSet{"rede", "internet", "wifi", "wi fi", "vpn", "roteador", "conexao", "sem sinal"},
		priority: domain.TicketPriorityHigh,
		category: domain.CategoryNetwork,
	},
	{
		keywords: keywordSet{"email", "e mail", "outlook"},
		priority: domain.TicketPriorityHigh,
		category: domain.CategoryEmail,
	},
	{
		keywords: keywordSet{"senha", "login", "logar", "acesso", "bloquead", "conta "},
		priority: domain.TicketPriorityMedium,
		category: domain.CategoryAccess,
	},
	{
		keywords: keywordSet{"tela azul", "nao liga", "nao inicia", "computador", "notebook", "monitor", "teclado", "mouse"},
		priority: domain.TicketPriorityMedium,
		category: domain.CategoryHardware,
	},
	{
		keywords: keywordSet{"impressora", "imprim", "scanner"},
		priority: domain.TicketPriorityLow,
		category: domain.CategoryHardware,
	},
	{
		keywords: keywordSet{"excel", "word", "office", "programa", "software", "instal", "aplicativo", "teams", "navegador"},
		priority: domain.TicketPriorityLow,
		category: domain.CategorySoftware,
	},
}

// InferPriority returns the priority and category of the first matching
// rule, defaulting to Medium/General.
func InferPriority(text string) (domain.TicketPriority, domain.TicketCategory) {
	normalized := Normalize(text)
	for _, rule := range priorityTable {
		if rule.keywords.matches(normalized) {
			return rule.priority, rule.category
		}
	}
	return domain.TicketPriorityMedium, domain.CategoryGeneral
}

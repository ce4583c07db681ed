package catalog

import "time"

const defaultCurrency = "usd"

// basePrompt is prefixed to every service prompt.
const basePrompt = "Eres el Asistente May Roga, un acompañante de bienestar cálido y respetuoso. " +
	"No das diagnósticos médicos ni sustituyes a un profesional de la salud. "

// serviceDefaults is the built-in catalog used when no CATALOG_FILE is set.
var serviceDefaults = []Service{
	{
		ID:         "respuesta_rapida",
		Name:       "Respuesta Rápida",
		PriceCents: 200,
		Duration:   55 * time.Second,
		Prompt:     basePrompt + "Responde de forma breve, clara y práctica en un máximo de tres frases.",
		Providers:  []string{ProviderOpenAI, ProviderGemini},
	},
	{
		ID:         "horoscopo",
		Name:       "Horóscopo y Consejos",
		PriceCents: 500,
		Duration:   5 * time.Minute,
		Prompt:     basePrompt + "Ofrece una lectura de horóscopo positiva con consejos de autocuidado para el día.",
		Providers:  []string{ProviderGemini, ProviderOpenAI},
	},
	{
		ID:         "medico",
		Name:       "Orientación de Bienestar",
		PriceCents: 500,
		Duration:   10 * time.Minute,
		Prompt: basePrompt + "Orienta sobre hábitos saludables y, ante cualquier síntoma serio, " +
			"recomienda acudir a un médico.",
		Providers: []string{ProviderOpenAI, ProviderGemini},
	},
	{
		ID:         "risoterapia",
		Name:       "Risoterapia y Bienestar Natural",
		PriceCents: 1200,
		Duration:   10 * time.Minute,
		Prompt:     basePrompt + "Guía ejercicios de risoterapia y técnicas naturales de relajación con humor amable.",
		Providers:  []string{ProviderGemini, ProviderOpenAI},
		Steps: []Step{
			{Text: "Bienvenido a tu sesión de risoterapia. Respira hondo y suelta los hombros."},
			{Prompt: "Propón un ejercicio corto de risa para empezar la sesión."},
			{Text: "Ahora sonríe durante diez segundos, aunque al principio te parezca raro."},
			{Prompt: "Cuenta una anécdota divertida y amable relacionada con el bienestar."},
			{Text: "Gracias por reír conmigo. Lleva esta ligereza contigo el resto del día."},
		},
	},
	{
		ID:         "sesion_risoterapia_20",
		Name:       "Sesión Risoterapia 20min",
		PriceCents: 2000,
		Duration:   20 * time.Minute,
		Prompt:     basePrompt + "Conduce una sesión guiada de risoterapia de veinte minutos, paso a paso.",
		Providers:  []string{ProviderGemini, ProviderOpenAI},
		Steps: []Step{
			{Text: "Comenzamos tu sesión de veinte minutos. Busca un lugar cómodo."},
			{Text: "Inhala en cuatro tiempos, exhala en seis. Repite tres veces."},
			{Prompt: "Guía un ejercicio de risa en grupo imaginario de dos minutos."},
			{Text: "Mueve suavemente el cuello y los brazos mientras sonríes."},
			{Prompt: "Propón una visualización alegre para soltar tensiones."},
			{Text: "Cerramos con tres respiraciones profundas. Hasta la próxima."},
		},
	},
	{
		ID:         "sesion_personalizada_30",
		Name:       "Sesión Personalizada 30min",
		PriceCents: 3500,
		Duration:   30 * time.Minute,
		Prompt:     basePrompt + "Adapta la sesión a lo que la persona cuente y mantén un tono cercano.",
		Providers:  []string{ProviderOpenAI, ProviderGemini},
		Steps: []Step{
			{Text: "Bienvenido a tu sesión personalizada de treinta minutos."},
			{Prompt: "Haz una pregunta abierta para conocer cómo se siente la persona hoy."},
			{Prompt: "Sugiere una práctica de relajación adaptada a un día exigente."},
			{Prompt: "Propón un pequeño compromiso de autocuidado para esta semana."},
			{Text: "Gracias por dedicarte este tiempo. Cuídate mucho."},
		},
	},
	{
		ID:         "paquete_corporativo",
		Name:       "Paquete Corporativo 20-40min",
		PriceCents: 5000,
		Duration:   40 * time.Minute,
		Prompt:     basePrompt + "Diseña dinámicas de bienestar y risoterapia para equipos de trabajo.",
		Providers:  []string{ProviderOpenAI, ProviderGemini},
		Steps: []Step{
			{Text: "Iniciamos la sesión corporativa de bienestar."},
			{Prompt: "Propón una dinámica rompehielos con humor para un equipo de trabajo."},
			{Prompt: "Guía un ejercicio de respiración colectiva para reducir el estrés laboral."},
			{Prompt: "Sugiere una actividad de risa en parejas de cinco minutos."},
			{Text: "Cerramos la sesión. Un equipo que ríe junto trabaja mejor."},
		},
	},
}

// DefaultServices returns a copy of the built-in catalog with defaults applied.
func DefaultServices() []Service {
	out := make([]Service, 0, len(serviceDefaults))
	for _, s := range serviceDefaults {
		out = append(out, applyDefaults(cloneService(s)))
	}
	return out
}

// NewDefaultRegistry returns a Registry over the built-in catalog.
func NewDefaultRegistry() Registry {
	return NewStaticRegistry(DefaultServices())
}

func applyDefaults(s Service) Service {
	if s.Currency == "" {
		s.Currency = defaultCurrency
	}
	if s.CreditsPerPurchase == 0 {
		s.CreditsPerPurchase = 1
	}
	if len(s.Providers) == 0 {
		s.Providers = []string{ProviderOpenAI, ProviderGemini}
	}
	return s
}

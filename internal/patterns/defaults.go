package patterns

import "strings"

// Turkish patterns are matched against text folded with Turkish case rules
// and must be written in lower case. Go's \b only understands ASCII word
// characters, so Turkish patterns never put \b next to a non-ASCII letter.

var defaultRaw = map[string]map[Language][]string{
	// Response firewall: structural dumps.
	KeyJSONKey: {
		Any: {`"[A-Za-z_][\w\-]*"\s*:`},
	},
	KeyJSONArray: {
		Any: {`\[\s*\{\s*"[^"]+"\s*:`},
	},
	KeyJSONFence: {
		Any: {"(?i)```\\s*json", "```\\s*[\\{\\[]"},
	},
	KeyHTMLTag: {
		Any: {`</?[a-zA-Z][a-zA-Z0-9]*(?:\s[^<>]*)?/?>`},
	},
	KeyHTMLDocument: {
		Any: {`(?i)<(?:html|head|body|table|script)\b`},
	},

	// Response firewall: prompt and implementation disclosure.
	KeyPromptDisclosure: {
		Turkish: {
			`sistem (?:prompt|istemi|mesajı|talimatı|talimatları)`,
			`gizli (?:talimat|kural|yönerge)`,
			`prompt şablon`,
			`geliştirici (?:mesajı|talimatı)`,
			`bana verilen talimatlar`,
		},
		English: {
			`\bsystem (?:prompt|message|instructions?)\b`,
			`\bdeveloper (?:message|instructions?)\b`,
			`\bhidden (?:instructions?|rules)\b`,
			`\bprompt template\b`,
			`\bmy (?:initial|original) instructions\b`,
		},
	},
	KeySectionHeader: {
		Any: {
			`(?im)^\s{0,3}#{1,6}\s*(?:rules|instructions|system|tools|constraints|guidelines|forbidden topics)\b`,
			`(?im)^\s{0,3}#{1,6}\s*(?:kurallar|yasak konular|tal[iı]matlar|araçlar|yönergeler|k[ıi]s[ıi]tlar)`,
		},
	},
	KeyToolInvocation: {
		Turkish: {
			`(?:aracını|aracı|fonksiyonunu|fonksiyonu|tool'?unu|tool'?u)\s+(?:kullandım|çağırdım|çalıştırdım)`,
			`[a-z]+_[a-z_]+ (?:aracı|fonksiyonu)`,
		},
		English: {
			`\bi (?:have |just )?(?:used|called|invoked|ran|executed|queried) (?:the )?[\w]+ (?:tool|function|api|endpoint)\b`,
			`\b(?:tool|function) call(?:s|ing)?\b`,
		},
	},
	KeyToolIdentifier: {
		Any: {
			`\b(?:get|fetch|lookup|search|check|create|update|list|query)_[a-z0-9_]+\b`,
			`\b[a-z]+(?:_[a-z]+)*_(?:lookup|search|query|tool|api)\b`,
			`\b(?:get|fetch|lookup|search|query)[A-Z][A-Za-z]+\b`,
		},
	},
	KeyVendorTerms: {
		Any: {
			`(?i)\b(?:prisma|postgres(?:ql)?|mongodb|supabase|redis|elasticsearch|pinecone|langchain|llamaindex|openai|anthropic)\b`,
			`(?i)\b(?:gpt-?[34][\w.\-]*|claude-[\w.\-]+)`,
			`(?i)\b(?:vector (?:database|store)|system_prompt|tool_calls?|function_call)\b`,
		},
	},

	// Tool-only semantic categories.
	CategoryKey(CategoryOrderStatus): {
		Turkish: {
			`siparişiniz (?:kargoya verildi|kargoda|yolda|hazırlanıyor|teslim edildi|iptal edildi)`,
			`kargonuz (?:yolda|dağıtımda|teslim edildi|şubede)`,
			`sipariş durumu(?:nuz)?\s*:`,
			`(?:kargo )?takip (?:numaranız|no)\s*:?\s*[a-z0-9]{6,}`,
		},
		English: {
			`\byour (?:order|package|parcel) (?:has been|was|is) (?:shipped|dispatched|delivered|cancelled|canceled|being prepared|out for delivery|on (?:its|the) way)\b`,
			`\border status\s*:`,
			`\btracking (?:number|no\.?|code)\s*(?:is\s*)?:?\s*[a-z0-9]{6,}`,
		},
	},
	CategoryKey(CategoryCustomerPII): {
		Turkish: {
			`kayıtlı (?:adresiniz|telefon numaranız|e-?posta adresiniz|adınız)`,
			`sistemdeki (?:adresiniz|telefonunuz|bilgileriniz)`,
			`teslimat adresiniz\s*:?`,
		},
		English: {
			`\byour (?:registered|saved|delivery|billing) (?:address|phone(?: number)?|email(?: address)?) is\b`,
			`\bwe have your (?:address|phone|email) as\b`,
		},
	},
	CategoryKey(CategoryPaymentInfo): {
		Turkish: {
			`ödemeniz (?:alındı|onaylandı|iade edildi|reddedildi)`,
			`iadeniz (?:yapıldı|hesabınıza geçti|onaylandı)`,
			`(?:bakiyeniz|borcunuz|ödenecek tutar)\s*:?\s*\d`,
		},
		English: {
			`\byour (?:payment|refund) (?:has been|was) (?:received|approved|processed|refunded|declined|issued)\b`,
			`\byour (?:balance|outstanding amount) is\b`,
		},
	},

	// Anti-confabulation event claims.
	EventKey(EventDelivery): {
		Turkish: {
			`teslim edildi`,
			`teslim edilmiştir`,
			`(?:komşunuza|kapıcıya|güvenliğe) bırakıldı`,
			`kargoya verildi`,
			`dağıtıma çıktı`,
			`yola çıktı`,
		},
		English: {
			`\b(?:was|has been|is) (?:delivered|shipped|dispatched)\b`,
			`\bleft (?:with|at) (?:your )?(?:neighbou?r|door|reception)\b`,
			`\bout for delivery\b`,
		},
	},
	EventKey(EventOrder): {
		Turkish: {
			`siparişiniz (?:onaylandı|oluşturuldu|iptal edildi|güncellendi|hazırlandı)`,
			`iadeniz (?:onaylandı|tamamlandı|başlatıldı)`,
			`talebiniz (?:oluşturuldu|iletildi|kaydedildi)`,
		},
		English: {
			`\byour (?:order|return|request|refund) (?:has been|was) (?:confirmed|created|cancelled|canceled|updated|approved|completed|submitted)\b`,
		},
	},
	EventKey(EventStock): {
		Turkish: {
			`stokta (?:var|mevcut|kalmadı|yok)`,
			`stoklarımıza (?:girdi|girecek)`,
			`tükendi`,
		},
		English: {
			`\b(?:is|are) (?:in|out of|back in) stock\b`,
			`\b(?:is|are) sold out\b`,
		},
	},
	EventKey(EventService): {
		Turkish: {
			`teknik servise (?:ulaştı|gönderildi|alındı)`,
			`tamir (?:edildi|edilmiştir|tamamlandı)`,
			`randevunuz (?:oluşturuldu|onaylandı)`,
			`ekibimiz (?:sizi arayacak|adresinize gelecek)`,
		},
		English: {
			`\b(?:was|has been) repaired\b`,
			`\b(?:arrived at|received by) (?:the|our) service (?:center|centre)\b`,
			`\byour appointment (?:has been|is) (?:booked|confirmed|scheduled)\b`,
			`\b(?:a |our )?technician will (?:call|visit|arrive)\b`,
		},
	},
	EventKey(EventTime): {
		Turkish: {
			`(?:yarın|bugün|bu akşam|hafta içinde) (?:elinize ulaşacak|teslim edilecek|kargoya verilecek)`,
			`\d+\s*(?:iş )?gün içinde (?:teslim|elinize|kargoya|hesabınıza)`,
			`saat \d{1,2}(?:[:.]\d{2})?'?(?:e|a|de|da|te|ta)? kadar`,
		},
		English: {
			`\bwill (?:arrive|be delivered|be shipped|reach you) (?:today|tomorrow|this week|by \w+)\b`,
			`\bwithin \d+\s*(?:business |working )?days\b`,
		},
	},
	KeyHedges: {
		Turkish: {
			`muhtemelen`,
			`sanırım`,
			`tahminen`,
			`galiba`,
			`belki`,
			`büyük (?:ihtimalle|olasılıkla)`,
			`olabilir`,
			`genellikle`,
			`kesin (?:değil|bilgi veremiyorum)`,
			`kontrol etmem gerek`,
		},
		English: {
			`\bprobably\b`,
			`\b(?:maybe|perhaps)\b`,
			`\blikely\b`,
			`\bi think\b`,
			`\bmight\b`,
			`\bmay have\b`,
			`\busually\b`,
			`\btypically\b`,
			`\bnot sure\b`,
			`\bi(?:'d| would) need to check\b`,
		},
	},

	// Internal protocol disclosure.
	ProtocolKey(SignalRulesDisclosure): {
		Turkish: {
			`kurallarım(?:a göre)?`,
			`yönergelerim(?:e göre)?`,
			`talimatlarım(?:a göre)?`,
			`bana (?:verilen|tanımlanan) (?:kurallar|talimatlar|yönergeler)`,
			`(?:bunu )?(?:paylaşmam|söylemem) yasak`,
		},
		English: {
			`\bmy (?:rules|guidelines|instructions) (?:say|state|tell|require|prevent|forbid|don't allow)\b`,
			`\b(?:according to|per) my (?:rules|guidelines|instructions)\b`,
			`\bi(?:'m| am) (?:instructed|programmed|not allowed) to\b`,
		},
	},
	ProtocolKey(SignalInstructionParaphrase): {
		Turkish: {
			`benden (?:istenen|beklenen),? (?:her zaman|asla|önce)`,
			`(?:asla|hiçbir zaman) (?:paylaşmamam|söylememem|vermemem) (?:gerekiyor|gerekir|isteniyor)`,
			`(?:her zaman|daima) önce (?:kimlik|doğrulama)[^.]{0,40}(?:yapmam|istemem) (?:gerekiyor|gerekir)`,
		},
		English: {
			`\bi(?:'m| am) (?:supposed|required|told) to (?:always|never)\b`,
			`\bi (?:must|should) never (?:reveal|share|disclose|mention)\b`,
			`\bi(?:'ve| have) been (?:told|instructed|configured) to\b`,
		},
	},
	ProtocolKey(SignalPromptReference): {
		Turkish: {
			`sistem (?:istemim|promptum|mesajım)`,
			`(?:bana|bu konuşma için) yapılandırılan`,
		},
		English: {
			`\bmy (?:system )?prompt\b`,
			`\bthe prompt i (?:was given|received)\b`,
		},
	},
	ProtocolKey(SignalWorkflowNarration): {
		Turkish: {
			`(?:önce|şimdi) (?:aracı|sistemi|veritabanını) (?:çağırıp|sorgulayıp|kontrol edip)`,
			`doğrulama akışı(?:nı|na)`,
			`iç (?:süreç|akış)(?:ımız|imiz)?`,
			`arka planda (?:sorgu|çağrı)`,
		},
		English: {
			`\b(?:first|now) i (?:will|need to|must) (?:call|query|invoke)\b`,
			`\b(?:verification|internal) (?:workflow|flow|pipeline)\b`,
			`\bbehind the scenes i\b`,
		},
	},

	// Claim gates.
	KeyNotFoundAck: {
		Turkish: {
			`bulunamadı`,
			`bulamadım`,
			`bulunmamaktadır`,
			`eşleşen (?:bir )?(?:kayıt|sipariş)`,
			`sistemde (?:göremiyorum|görünmüyor|bulunmuyor)`,
		},
		English: {
			`\bnot found\b`,
			`\bcould(?:n't| not) (?:find|locate)\b`,
			`\bunable to (?:find|locate)\b`,
			`\bno (?:matching )?(?:record|order)s?\b`,
		},
	},

	// Order statuses as claimed in replies.
	StatusKey(StatusProcessing): {
		Turkish: {`hazırlanıyor`, `hazırlanmaktadır`, `işleme alındı`, `onay bekliyor`},
		English: {`\bbeing (?:prepared|processed)\b`, `\bis processing\b`, `\bpending (?:confirmation|approval)\b`},
	},
	StatusKey(StatusShipped): {
		Turkish: {`kargoya (?:teslim edildi|verildi|verilmiştir)`, `kargoda`, `yola çıktı`, `dağıtıma çıktı`, `yolda`},
		English: {`\b(?:has been |was )?(?:shipped|dispatched)\b`, `\bout for delivery\b`, `\bin transit\b`, `\bon (?:its|the) way\b`},
	},
	StatusKey(StatusDelivered): {
		Turkish: {`teslim edildi`, `teslim edilmiştir`, `elinize ulaştı`},
		English: {`\b(?:has been |was )?delivered\b`},
	},
	StatusKey(StatusCancelled): {
		Turkish: {`iptal edildi`, `iptal edilmiştir`},
		English: {`\b(?:has been |was )?(?:cancelled|canceled)\b`},
	},
	StatusKey(StatusReturned): {
		Turkish: {`iade edildi`, `iade edilmiştir`, `iadeniz tamamlandı`},
		English: {`\b(?:has been |was )?returned\b`, `\brefund(?:ed)? (?:completed|processed)\b`},
	},

	// Field grounding.
	KeyTrackingClaim: {
		Any: {`(?i)(?:takip (?:no|numarası|numaranız|kodu)|tracking (?:number|no\.?|code|id))\s*(?:is\s*)?[:#]?\s*([A-Za-z0-9\-]{5,})`},
	},
	KeyAddressClaim: {
		Turkish: {
			`(?:adres(?:iniz)?|teslimat adresi(?:niz)?)\s*:\s*\S`,
			`\S+ (?:mah\.|mahallesi|cad\.|caddesi|sok\.|sokak|sk\.)`,
		},
		English: {
			`\b(?:shipping |delivery )?address\s*:\s*\S`,
			`\b\d+\s+[a-z]+\s+(?:street|st\.|avenue|ave\.|road|rd\.)`,
		},
	},
	KeyAmountPrefix: {
		Any: {`([$€£₺])\s?(\d[\d.,]*\d|\d)`},
	},
	KeyAmountSuffix: {
		Any: {`(?i)(\d[\d.,]*\d|\d)\s?(?:tl|try|usd|eur|gbp|lira|₺|€|\$|£)(?:[^\p{L}]|$)`},
	},

	// PII scanner: full values only.
	KeyPIIAddress: {
		Turkish: {
			`\S+ (?:mah\.|mahallesi|mh\.)[^\n]{0,80}?(?:no|numara)\s*:?\s*\d+`,
			`\S+ (?:cad\.|caddesi|cd\.|sok\.|sokağı|sokak|sk\.|bulvarı|blv\.)[^\n]{0,40}?(?:no|numara)\s*:?\s*\d+`,
		},
		English: {
			`\b\d+\s+[a-z]+(?:\s+[a-z]+)?\s+(?:street|st\.|avenue|ave\.|road|rd\.|boulevard|blvd\.)`,
		},
	},
	KeyPIIBalance: {
		Turkish: {
			`(?:hesap bakiyeniz|kullanılabilir bakiye(?:niz)?|bakiyeniz|güncel bakiye)\s*:?\s*(?:[₺$€]\s*)?\d[\d.,]*`,
		},
		English: {
			`\b(?:account|available|current|your) balance\s*(?:is|of)?\s*:?\s*[₺$€£]?\s*\d[\d.,]*`,
		},
	},
	KeyPIIBirthLabel: {
		Turkish: {`doğum tarihi(?:niz)?\s*:?\s*\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4}`},
		English: {`\b(?:date of birth|birth ?date|dob)\s*:?\s*\d{1,2}[./\-]\d{1,2}[./\-]\d{2,4}`},
	},

	// Leak filter.
	KeyLeakAddress: {
		Turkish: {
			`\S+ (?:mah\.|mahallesi|mh\.)`,
			`\S+ (?:cad\.|caddesi|cd\.|sok\.|sokağı|sokak|sk\.|bulvarı|blv\.)`,
			`(?:no|kapı no|daire)\s*:\s*\d+`,
		},
		English: {
			`\b\d+\s+[a-z]+\s+(?:street|st\.|avenue|ave\.|road|rd\.|boulevard|blvd\.)`,
			`\b(?:apt|apartment|suite)\.?\s*\d+`,
		},
	},
	KeyLeakBalance: {
		Turkish: {
			`(?:bakiye(?:niz)?|borcunuz|kalan tutar|hesabınızda)\s*:?\s*[₺$€]?\s*\d`,
		},
		English: {
			`\b(?:balance|amount due|outstanding)\s*(?:is|of)?\s*:?\s*[₺$€£]?\s*\d`,
		},
	},
}

var defaultCategories = []SemanticCategory{
	{Name: CategoryOrderStatus, RequiredTools: []string{"order_lookup", "order_status_lookup", "shipment_tracking"}},
	{Name: CategoryCustomerPII, RequiredTools: []string{"customer_data_lookup"}},
	{Name: CategoryPaymentInfo, RequiredTools: []string{"payment_lookup", "order_lookup"}},
}

var defaultEvents = []EventCategory{
	{Name: EventDelivery},
	{Name: EventOrder},
	{Name: EventStock, KBBacked: true},
	{Name: EventService},
	{Name: EventTime},
}

// defaultContradictions maps the status a tool returned to the statuses a
// reply may not claim.
var defaultContradictions = map[string][]string{
	StatusProcessing: {StatusDelivered, StatusShipped, StatusCancelled, StatusReturned},
	StatusShipped:    {StatusDelivered, StatusCancelled, StatusProcessing, StatusReturned},
	StatusDelivered:  {StatusProcessing, StatusCancelled},
	StatusCancelled:  {StatusDelivered, StatusShipped, StatusProcessing},
	StatusReturned:   {StatusProcessing, StatusShipped},
}

var defaultToolNames = []string{
	"order_lookup",
	"order_status_lookup",
	"shipment_tracking",
	"customer_data_lookup",
	"payment_lookup",
	"ticket_lookup",
	"product_lookup",
	"callback_request",
	"kb_search",
}

func buildDefault() *Library {
	lib := &Library{
		sets:           make(map[string]Set, len(defaultRaw)),
		categories:     defaultCategories,
		events:         defaultEvents,
		contradictions: defaultContradictions,
		toolNames:      defaultToolNames,
	}
	for key, raw := range defaultRaw {
		lib.sets[key] = mustSet(raw)
	}
	return lib
}

// statusAliases maps the status strings tools return to canonical statuses.
var statusAliases = map[string]string{
	"processing":       StatusProcessing,
	"preparing":        StatusProcessing,
	"pending":          StatusProcessing,
	"confirmed":        StatusProcessing,
	"hazırlanıyor":     StatusProcessing,
	"onaylandı":        StatusProcessing,
	"shipped":          StatusShipped,
	"in_transit":       StatusShipped,
	"out_for_delivery": StatusShipped,
	"dispatched":       StatusShipped,
	"kargoda":          StatusShipped,
	"kargoya_verildi":  StatusShipped,
	"delivered":        StatusDelivered,
	"teslim_edildi":    StatusDelivered,
	"cancelled":        StatusCancelled,
	"canceled":         StatusCancelled,
	"iptal":            StatusCancelled,
	"iptal_edildi":     StatusCancelled,
	"returned":         StatusReturned,
	"refunded":         StatusReturned,
	"iade":             StatusReturned,
	"iade_edildi":      StatusReturned,
}

// NormalizeStatus maps a tool's status value to a canonical status. ok is
// false for statuses the contradiction map does not cover.
func NormalizeStatus(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	// Tool statuses are usually ASCII upper case ("DELIVERED"), which Turkish
	// folding would turn into "delıvered".
	for _, key := range []string{strings.ToLower(raw), Fold(raw, Turkish)} {
		if s, ok := statusAliases[statusSeparators.Replace(key)]; ok {
			return s, true
		}
	}
	return "", false
}

var statusSeparators = strings.NewReplacer(" ", "_", "-", "_")

package pack

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/packforge/packforge/pkg/models"
)

// ErrNicheLock is returned when generated outputs fail to reflect
// the requested niche.
var ErrNicheLock = errors.New("niche-lock failed: outputs do not reflect niche")

// ErrEmptyNiche is returned when a build request carries no usable input.
var ErrEmptyNiche = errors.New("niche is empty (cannot generate)")

var (
	tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+|[\x{0600}-\x{06FF}]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// stopwords covers Arabic function words plus a handful of English ones.
var stopwords = map[string]bool{
	"في": true, "من": true, "على": true, "إلى": true, "عن": true,
	"هذا": true, "هذه": true, "ذلك": true, "تلك": true, "مع": true,
	"ثم": true, "و": true, "او": true, "أو": true,
	"the": true, "a": true, "an": true, "to": true, "of": true,
	"and": true, "or": true, "for": true, "in": true,
}

func cleanText(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// keywords extracts up to limit distinct Latin or Arabic tokens from
// the niche, dropping stopwords, pure digits and hashtag markers.
func keywords(niche string, limit int) []string {
	niche = cleanText(niche)
	tokens := tokenRe.FindAllString(niche, -1)

	out := make([]string, 0, limit)
	seen := make(map[string]bool)
	for _, t := range tokens {
		tt := strings.ToLower(strings.Trim(t, "#"))
		if tt == "" || stopwords[tt] {
			continue
		}
		if isDigits(tt) {
			continue
		}
		if seen[tt] {
			continue
		}
		seen[tt] = true
		out = append(out, tt)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// seedFor derives the deterministic variant seed: the first 8 hex
// chars of sha256("niche|tone|lang") as an integer. Same inputs,
// same copy.
func seedFor(niche, tone, lang string) int {
	h := sha256.Sum256([]byte(niche + "|" + tone + "|" + lang))
	hexPrefix := fmt.Sprintf("%x", h[:4])
	v, _ := strconv.ParseUint(hexPrefix, 16, 64)
	return int(v)
}

func buildLinkedIn(niche, tone, lang string, kws []string, s int) string {
	niche = cleanText(niche)
	authority := "Authority"
	if strings.HasPrefix(lang, "ar") {
		authority = "سلطة معرفية"
	}

	hookVariantsAr := []string{
		fmt.Sprintf("الخطأ الأكبر في %s ليس نقص الأدوات… بل اختيار الإشارة الخطأ.", niche),
		fmt.Sprintf("إذا أردت نتائج حقيقية في %s خلال 14 يومًا: لا تطارد الترند… ابنِ نظام.", niche),
		fmt.Sprintf("%s: 80%% من الناس يعملون أكثر… ليحصلوا على أقل.", niche),
		fmt.Sprintf("لن تكسب في %s لأنك أذكى… بل لأنك تقيس الشيء الصحيح.", niche),
	}
	hook := fmt.Sprintf("%s: most people measure the wrong thing.", niche)
	if strings.HasPrefix(lang, "ar") {
		hook = hookVariantsAr[s%len(hookVariantsAr)]
	}

	bullets := []string{
		"1) حدّد «عميلًا واحدًا» بدقة (ليس جمهورًا).",
		"2) اختر «عرضًا واحدًا» يمكن قياسه (قبل التوسع).",
		"3) اصنع سلسلة محتوى تقود لنقطة قرار واحدة.",
		"4) اجعل كل منشور يلتقط بيانات (سؤال/تصويت/CTA).",
	}
	cta := "سؤال مباشر: ما الجزء الأصعب لديك الآن؟ (المنتج / التسويق / التحويل / الاستمرارية)"
	hashtags := hashtagLine(kws, 5)

	lines := []string{
		hook,
		"",
		fmt.Sprintf("الهدف هنا: تحويل %s إلى %s قابلة للتكرار.", niche, authority),
		"",
	}
	lines = append(lines, bullets...)
	lines = append(lines,
		"",
		"قاعدة ذهبية:",
		fmt.Sprintf("إذا لم تستطع شرح %s في جملة واحدة تُقنع شخصًا مشغولًا… فأنت لم تُصمّم الرسالة بعد.", niche),
		"",
		cta,
		"",
		hashtags,
	)
	return strings.Join(lines, "\n")
}

func buildX(niche, tone, lang string, kws []string, s int) string {
	niche = cleanText(niche)
	tweets := []string{
		fmt.Sprintf("%s: لا تحتاج خطة معقدة… تحتاج «مقياس واحد» يمنعك من خداع نفسك.", niche),
		fmt.Sprintf("أسرع طريقة للفشل في %s: تشتغل كثير وتراقب صفر مؤشرات.", niche),
		fmt.Sprintf("في %s… المنافس الحقيقي ليس منافسك، بل تشتتك.", niche),
	}
	tweet := tweets[s%len(tweets)]

	thread := []string{
		"Thread 🧵",
		"1) اكتب الهدف بصيغة رقم + مدة (مثال: 30 طلب خلال 21 يوم).",
		"2) اختر قناة واحدة فقط لمدة أسبوعين.",
		"3) ابنِ 3 رسائل: (ألم / حل / إثبات).",
		"4) كرّر نفس الرسائل بطرق مختلفة بدل تبديل كل شيء.",
		fmt.Sprintf("5) راقب: (CTR / Replies / Saves). هذه إشارات أن %s بدأ يلتقط.", niche),
		"إذا تريد، اكتب هدفك هنا وسأعيد صياغته كنظام قابل للتنفيذ.",
	}

	lines := append([]string{tweet, ""}, thread...)
	lines = append(lines, "", hashtagLine(kws, 4))
	return strings.Join(lines, "\n")
}

func buildTikTok(niche, tone, lang string, kws []string, s int) string {
	niche = cleanText(niche)
	hooks := []string{
		fmt.Sprintf("إذا كنت داخل %s وتقول «الموضوع ما يمشي»… اسمع هذا.", niche),
		fmt.Sprintf("3 أشياء تمنعك تكسب من %s… حتى لو أنت شاطر.", niche),
		fmt.Sprintf("سر صغير: %s ليس لعبة ترند… هو لعبة نظام.", niche),
	}
	hook := hooks[s%len(hooks)]

	script := []string{
		fmt.Sprintf("Hook: %s", hook),
		"مشهد 1 (2 ثواني): نص كبير على الشاشة: «السبب الحقيقي للفشل»",
		fmt.Sprintf("مشهد 2 (5 ثواني): اشرح: «أنت تحاول تعظيم كل شيء بدل تعظيم خطوة واحدة داخل %s»", niche),
		"مشهد 3 (7 ثواني): قدّم إطار 3 خطوات: (عرض واضح) -> (رسالة واحدة) -> (CTA واحد)",
		"مشهد 4 (6 ثواني): مثال سريع جدًا (قبل/بعد) + إثبات بسيط",
		"Outro (3 ثواني): «اكتب كلمتك المفتاحية وسأرسل لك قالب التنفيذ»",
		"",
		"B-roll مقترح:",
		"- لقطات شاشة / كتابة على ورق / لوحة تحكم / نتائج قبل وبعد",
	}
	return strings.Join(script, "\n")
}

func hashtagLine(kws []string, max int) string {
	if len(kws) > max {
		kws = kws[:max]
	}
	tags := make([]string, len(kws))
	for i, k := range kws {
		tags[i] = "#" + k
	}
	return strings.Join(tags, " ")
}

func visualPrompt(niche string) string {
	niche = cleanText(niche)
	return "Ultra-realistic cinematic professional photo, " +
		fmt.Sprintf("visual metaphor for: %s. ", niche) +
		"Modern dark studio, clean minimal tech desk, soft rim lighting, " +
		"high-end advertising look, shallow depth of field, 4k, " +
		"no text, no watermark, no logos."
}

// dominanceScore rates a pack from 60 to 95 based on keyword
// richness, platform mix and tone.
func dominanceScore(niche string, platforms []string, tone string) models.Dominance {
	kws := keywords(niche, 8)

	base := 60
	if len(kws) >= 4 {
		base += 10
	}
	if hasPlatform(platforms, "tiktok") {
		base += 5
	}
	switch strings.ToLower(tone) {
	case "authority", "سلطوي", "سيادي":
		base += 5
	}
	if base > 95 {
		base = 95
	}

	crossPlatform := "منصة واحدة"
	if len(platforms) >= 2 {
		crossPlatform = "Cross-platform: مفعّل"
	}
	risk := "متوسط"
	if base >= 75 {
		risk = "منخفض"
	}

	return models.Dominance{
		Score: base,
		Signals: []string{
			"Niche-Lock: مضمون",
			"CTA: موجود",
			crossPlatform,
		},
		Risk: risk,
	}
}

func hasPlatform(platforms []string, name string) bool {
	for _, p := range platforms {
		if strings.ToLower(p) == name {
			return true
		}
	}
	return false
}

func packMarkdown(niche string, assets map[string]string, genes models.Genes, dominance models.Dominance, visual models.Visual) string {
	genesJSON, _ := json.MarshalIndent(genes, "", "  ")
	dominanceJSON, _ := json.MarshalIndent(dominance, "", "  ")

	parts := []string{
		"# Dominance Pack",
		fmt.Sprintf("**Niche:** %s", niche),
		"",
		"## Genes",
		"```json",
		string(genesJSON),
		"```",
		"",
		"## Dominance Score",
		"```json",
		string(dominanceJSON),
		"```",
		"",
		"## Visual Prompt",
		"```text",
		visual.Prompt,
		"```",
		"",
	}
	// Fixed platform order keeps the markdown deterministic
	for _, k := range []string{"linkedin", "x", "tiktok"} {
		v, ok := assets[k]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s", strings.ToUpper(k)), "```text", v, "```", "")
	}
	return strings.Join(parts, "\n")
}

// ensureNicheLock verifies the generated pack actually reflects the
// niche: either the niche appears verbatim somewhere in the payload
// or all of its top keywords do.
func ensureNicheLock(niche string, pack *models.Pack) error {
	niche = cleanText(niche)
	if niche == "" {
		return ErrEmptyNiche
	}

	blob, err := json.Marshal(pack)
	if err != nil {
		return fmt.Errorf("failed to serialize pack for niche check: %w", err)
	}
	if strings.Contains(string(blob), niche) {
		return nil
	}

	kws := keywords(niche, 3)
	if len(kws) == 0 {
		return ErrNicheLock
	}
	lower := strings.ToLower(string(blob))
	for _, k := range kws {
		if !strings.Contains(lower, k) {
			return ErrNicheLock
		}
	}
	return nil
}

// BuildPack deterministically generates the full artifact for a
// request. It performs no I/O; persistence is the caller's concern.
func BuildPack(jobID string, req models.BuildRequest) (*models.Pack, error) {
	niche := cleanText(req.Input)
	if niche == "" {
		return nil, ErrEmptyNiche
	}

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = "ar"
	}
	tone := strings.TrimSpace(req.Tone)
	if tone == "" {
		tone = "Authority"
	}
	mode := strings.TrimSpace(req.Mode)
	if mode == "" {
		mode = "niche"
	}
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = []string{"TikTok", "X", "LinkedIn"}
	}

	kws := keywords(niche, 8)
	s := seedFor(niche, tone, lang)

	assets := make(map[string]string)
	if hasPlatform(platforms, "linkedin") {
		assets["linkedin"] = buildLinkedIn(niche, tone, lang, kws, s)
	}
	if hasPlatform(platforms, "x") {
		assets["x"] = buildX(niche, tone, lang, kws, s+13)
	}
	if hasPlatform(platforms, "tiktok") {
		assets["tiktok"] = buildTikTok(niche, tone, lang, kws, s+29)
	}

	genes := models.Genes{
		Niche:    niche,
		Keywords: kws,
		Angle:    fmt.Sprintf("نظام > ترند داخل %s", niche),
		CTA:      "اكتب هدفك/سؤالك وسأعيد صياغته كنظام تنفيذ",
		Tone:     tone,
		Language: lang,
	}
	dominance := dominanceScore(niche, platforms, tone)
	visual := models.Visual{Prompt: visualPrompt(niche)}

	now := time.Now().UTC()
	pack := &models.Pack{
		ID:           models.NewID(),
		JobID:        jobID,
		Mode:         mode,
		InputValue:   niche,
		Language:     lang,
		Tone:         tone,
		Platforms:    platforms,
		Genes:        genes,
		Assets:       assets,
		Visual:       visual,
		Dominance:    dominance,
		PackMarkdown: packMarkdown(niche, assets, genes, dominance, visual),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := ensureNicheLock(niche, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

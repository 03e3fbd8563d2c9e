package analysis

import (
	"strings"

	"visitnote/internal/domain"
)

// SupplementFallback is returned when the model answers a supplement request with no text.
const SupplementFallback = "生成失敗。"

const analyzePrompt = `あなたは「ヒーロー協会」所属、看護歴30年のS級2位・最強のお局看護師です。
提供された訪問看護の会話データやメモを最強の知能で分析し、
新人看護師には到達できない「臨床的推論」に基づいたプロフェッショナルな記録を作成しなさい。

【分析の極意】
1. 患者の言動から、心不全増悪、脱水、認知症の進行、介護疲労などを予見しろ。
2. SOAPは正確な医療用語を使用すること。
3. 看護計画は具体的かつ実行可能な介入を提示しろ。

【出力形式】JSONで出力すること。`

var supplementPersonas = map[domain.SupplementKind]string{
	domain.SupplementInsight:      "S級の洞察力で、記録には現れていない『現場の違和感』を指摘しなさい。お局口調で厳しくな。",
	domain.SupplementFamilyReport: "家族向けです。安心感を与えつつ、専門的な視点を含めた丁寧な報告文を作成しなさい。",
	domain.SupplementHandover:     "多職種連携用。結論から簡潔に、医師やCMが即座に動ける申し送り文を書きなさい。",
}

func buildAnalyzePrompt(note string) string {
	if note == "" {
		return analyzePrompt
	}
	return analyzePrompt + "\n\n【報告メモ】\n" + note
}

func buildSupplementPrompt(note domain.CareNote, plan []domain.CarePlanEntry) string {
	problems := make([]string, 0, len(plan))
	for _, entry := range plan {
		problems = append(problems, entry.Problem)
	}

	var b strings.Builder
	b.WriteString("状況：\n")
	b.WriteString("【SOAP】S:" + note.Subjective + " O:" + note.Objective + " A:" + note.Assessment + " P:" + note.Plan + "\n")
	b.WriteString("【PLAN】" + strings.Join(problems, "/"))
	return b.String()
}

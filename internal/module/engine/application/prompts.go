package application

import (
	"fmt"
	"strings"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

const systemPrompt = "あなたは長編小説の構成と執筆を担当する熟練の作家です。指示された形式を厳守してください。"

func writeRequest(sb *strings.Builder, req jobdomain.GenerationRequest) {
	sb.WriteString("## 作品情報\n")
	sb.WriteString(fmt.Sprintf("タイトル: %s\n", req.Title))
	sb.WriteString(fmt.Sprintf("あらすじ: %s\n", req.Premise))
	if req.Genre != "" {
		sb.WriteString(fmt.Sprintf("ジャンル: %s\n", req.Genre))
	}
	if req.Audience != "" {
		sb.WriteString(fmt.Sprintf("想定読者: %s\n", req.Audience))
	}
	if req.Tone != "" {
		sb.WriteString(fmt.Sprintf("トーン: %s\n", req.Tone))
	}
	if req.Language != "" {
		sb.WriteString(fmt.Sprintf("執筆言語: %s\n", req.Language))
	}
	sb.WriteString("\n")
}

// buildAnalysisPrompt は作品設定の分析プロンプトを構築する
func buildAnalysisPrompt(req jobdomain.GenerationRequest) string {
	var sb strings.Builder
	writeRequest(&sb, req)

	sb.WriteString("## 指示\n")
	sb.WriteString("上記の作品について、物語の土台となる設定を分析してください。\n")
	sb.WriteString("次のキーを持つJSONオブジェクトのみを出力してください。\n")
	sb.WriteString(`{"themes": ["..."], "setting": "...", "characters": [{"id": "...", "name": "...", "role": "...", "description": "...", "arc": "..."}], "locations": [{"name": "...", "description": "..."}], "rationale": "..."}`)
	sb.WriteString("\n")
	return sb.String()
}

// buildOutlinePrompt はアウトライン生成プロンプトを構築する
func buildOutlinePrompt(req jobdomain.GenerationRequest, analysis analysisResult) string {
	var sb strings.Builder
	writeRequest(&sb, req)

	sb.WriteString("## 設定\n")
	if analysis.Setting != "" {
		sb.WriteString(fmt.Sprintf("舞台: %s\n", analysis.Setting))
	}
	if len(analysis.Themes) > 0 {
		sb.WriteString(fmt.Sprintf("テーマ: %s\n", strings.Join(analysis.Themes, "、")))
	}
	for _, ch := range analysis.Characters {
		sb.WriteString(fmt.Sprintf("- %s（%s）: %s\n", ch.Name, ch.Role, ch.Description))
	}
	sb.WriteString("\n")

	sb.WriteString("## 指示\n")
	sb.WriteString(fmt.Sprintf("全%d章のアウトラインを作成してください。\n", req.ChapterCount))
	sb.WriteString("次の形式のJSONオブジェクトのみを出力してください。\n")
	sb.WriteString(`{"chapters": [{"number": 1, "title": "...", "summary": "..."}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// buildChapterPrompt は章本文の生成プロンプトを構築する
func buildChapterPrompt(req jobdomain.GenerationRequest, outline []jobdomain.OutlineEntry, entry jobdomain.OutlineEntry, previous string, words int) string {
	var sb strings.Builder
	writeRequest(&sb, req)

	sb.WriteString("## アウトライン\n")
	for _, o := range outline {
		marker := " "
		if o.Number == entry.Number {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%s 第%d章 %s: %s\n", marker, o.Number, o.Title, o.Summary))
	}
	sb.WriteString("\n")

	if previous != "" {
		sb.WriteString("## 前章の結び\n")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## 指示\n")
	sb.WriteString(fmt.Sprintf("第%d章「%s」の本文を約%d語で執筆してください。\n", entry.Number, entry.Title, words))
	sb.WriteString("見出しや注釈は付けず、本文のみを出力してください。\n")
	return sb.String()
}

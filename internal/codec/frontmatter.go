// Package codec はエンティティとフロントマター付きmarkdownファイルの相互変換を行う。
//
// ファイル形式は "---\n" + YAML + "---\n" + 本文。本文はそのまま保持する。
package codec

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/inkstand/internal/model"
)

const delimiter = "---"

// Encode はメタデータと本文をファイル内容に変換する。
// フィールドの出力順は構造体の定義順で、同じ入力からは常に同じバイト列を返す。
func Encode(meta any, body string) ([]byte, error) {
	var fm bytes.Buffer
	enc := yaml.NewEncoder(&fm)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var out bytes.Buffer
	out.Grow(fm.Len() + len(body) + 8)
	out.WriteString(delimiter + "\n")
	out.Write(fm.Bytes())
	out.WriteString(delimiter + "\n")
	out.WriteString(body)
	return out.Bytes(), nil
}

// Split はファイル内容をフロントマターと本文に分割する。
// 区切り行とフロントマターは CRLF を許容するが、本文は改行コードも含めて変更しない。
func Split(data []byte) (frontMatter []byte, body string, err error) {
	text := strings.TrimPrefix(string(data), "\ufeff")

	if !strings.HasPrefix(text, delimiter+"\n") && !strings.HasPrefix(text, delimiter+"\r\n") {
		return nil, "", &model.ParseError{Reason: "missing front matter opening marker"}
	}
	_, start := nextLine(text, 0)

	for pos := start; pos < len(text); {
		lineStart := pos
		var line string
		line, pos = nextLine(text, pos)
		if line != delimiter {
			continue
		}
		if lineStart == start {
			return nil, text[pos:], nil
		}
		fm := strings.ReplaceAll(text[start:lineStart], "\r\n", "\n")
		return []byte(fm), text[pos:], nil
	}
	return nil, "", &model.ParseError{Reason: "missing front matter closing marker"}
}

// nextLine はposから始まる行を改行コードを除いて返し、次の行の開始位置を返す。
func nextLine(text string, pos int) (string, int) {
	i := strings.IndexByte(text[pos:], '\n')
	if i < 0 {
		return strings.TrimSuffix(text[pos:], "\r"), len(text)
	}
	return strings.TrimSuffix(text[pos:pos+i], "\r"), pos + i + 1
}

// Decode はファイル内容をmetaに展開し、本文を返す。
// フィールドの順序や任意フィールドの欠落は許容する。
// required のいずれかが欠落または空の場合は *model.ParseError を返す。
func Decode(data []byte, meta any, required []string) (string, error) {
	fm, body, err := Split(data)
	if err != nil {
		return "", err
	}

	raw := map[string]any{}
	if len(bytes.TrimSpace(fm)) > 0 {
		if err := yaml.Unmarshal(fm, &raw); err != nil {
			return "", &model.ParseError{Reason: err.Error()}
		}
	}
	for _, field := range required {
		if isBlank(raw[field]) {
			return "", &model.ParseError{Field: field}
		}
	}

	if len(bytes.TrimSpace(fm)) > 0 {
		if err := yaml.Unmarshal(fm, meta); err != nil {
			return "", &model.ParseError{Reason: err.Error()}
		}
	}
	return body, nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// EncodeEntity はエンティティをファイル内容に変換する。
func EncodeEntity(e model.Entity) ([]byte, error) {
	return Encode(e, e.Common().Content)
}

// DecodeEntity はファイル内容をエンティティに展開する。
// スラッグとリビジョンは呼び出し側が設定する。
func DecodeEntity(data []byte, e model.Entity) error {
	body, err := Decode(data, e, e.RequiredFields())
	if err != nil {
		return err
	}
	e.Common().Content = body
	return nil
}

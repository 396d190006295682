package domain

import "testing"

func TestParseQuality(t *testing.T) {
	for in, want := range map[string]Quality{"": QualityHD, "HD": QualityHD, " sd ": QualitySD, "Audio": QualityAudio} {
		got, err := ParseQuality(in)
		if err != nil || got != want {
			t.Fatalf("%q：期望 %q，实际 %q err=%v", in, want, got, err)
		}
	}
	if _, err := ParseQuality("4k"); KindOf(err) != KindInvalidRequest {
		t.Fatalf("非法 quality 应为 invalid_request，实际 %v", err)
	}
}

func TestVideoDescriptor_Validate(t *testing.T) {
	var d VideoDescriptor
	if d.Validate() == nil {
		t.Fatalf("没有直链时应校验失败")
	}
	d.SetVariant(QualitySD, "   ", false)
	if d.Validate() == nil {
		t.Fatalf("空白直链不应被写入")
	}
	d.SetVariant(QualityAudio, "https://cdn.example.test/a.mp3", false)
	if err := d.Validate(); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if d.Variants[QualityAudio].Quality != QualityAudio {
		t.Fatalf("SetVariant 应补齐 Quality")
	}
	if QualityAudio.Ext() != ".mp3" || QualityHD.Ext() != ".mp4" {
		t.Fatalf("扩展名不符合预期")
	}
}

package skills

import (
	"strings"
	"testing"
)

const validSkill = `---
name: test_skill
description: "Test skill"
parameters:
  type: object
  properties:
    msg:
      type: string
runtime: bash
sandbox: false
network: false
policy: allow
timeout_secs: 10
---
echo "hello $SKILL_ARGS"
`

func TestParseValidSkill(t *testing.T) {
	skill, err := Parse([]byte(validSkill), "/tmp/test.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := skill.Manifest
	if m.Name != "test_skill" || m.Description != "Test skill" || m.Runtime != RuntimeBash {
		t.Errorf("unexpected manifest %+v", m)
	}
	if m.Sandbox || m.Network {
		t.Errorf("sandbox/network flags wrong: %+v", m)
	}
	if m.Policy != "allow" || m.TimeoutSecs != 10 {
		t.Errorf("policy/timeout wrong: %+v", m)
	}
	if !strings.Contains(skill.Body, "echo") {
		t.Errorf("body lost: %q", skill.Body)
	}
	if skill.SourcePath != "/tmp/test.md" {
		t.Errorf("source path = %q", skill.SourcePath)
	}
}

func TestParseDefaults(t *testing.T) {
	content := "---\nname: minimal\ndescription: Minimal\nparameters: {}\nruntime: bash\n---\necho test\n"
	skill, err := Parse([]byte(content), "/tmp/minimal.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if skill.Manifest.Policy != "allow" {
		t.Errorf("default policy = %q, want allow", skill.Manifest.Policy)
	}
	if skill.Manifest.TimeoutSecs != DefaultTimeoutSecs {
		t.Errorf("default timeout = %d, want %d", skill.Manifest.TimeoutSecs, DefaultTimeoutSecs)
	}
}

func TestParseBodyPreservesLines(t *testing.T) {
	content := "---\nname: split_test\ndescription: Test\nparameters: {}\nruntime: bash\n---\n#!/bin/bash\necho \"line 1\"\necho \"line 2\"\n"
	skill, err := Parse([]byte(content), "/tmp/split.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(skill.Body, "line 1") || !strings.Contains(skill.Body, "line 2") {
		t.Errorf("body = %q", skill.Body)
	}
}

func TestParseRejections(t *testing.T) {
	cases := map[string]string{
		"no frontmatter": "echo hello",
		"empty name":     "---\nname: \"\"\ndescription: Test\nparameters: {}\nruntime: bash\n---\necho\n",
		"bad name":       "---\nname: \"has space\"\ndescription: Test\nparameters: {}\nruntime: bash\n---\necho\n",
		"no runtime":     "---\nname: x\ndescription: Test\nparameters: {}\n---\necho\n",
		"bad runtime":    "---\nname: x\ndescription: Test\nparameters: {}\nruntime: perl\n---\necho\n",
		"bad policy":     "---\nname: x\ndescription: Test\nparameters: {}\nruntime: bash\npolicy: sudo\n---\necho\n",
		"zero timeout":   "---\nname: x\ndescription: Test\nparameters: {}\nruntime: bash\ntimeout_secs: 0\n---\necho\n",
		"huge timeout":   "---\nname: x\ndescription: Test\nparameters: {}\nruntime: bash\ntimeout_secs: 9999\n---\necho\n",
	}
	for label, content := range cases {
		if _, err := Parse([]byte(content), "/tmp/bad.md"); err == nil {
			t.Errorf("%s: Parse accepted invalid skill", label)
		}
	}
}

func TestParseRejectsOverlongDescription(t *testing.T) {
	content := "---\nname: x\ndescription: \"" + strings.Repeat("d", 501) + "\"\nparameters: {}\nruntime: bash\n---\necho\n"
	if _, err := Parse([]byte(content), "/tmp/bad.md"); err == nil {
		t.Error("Parse accepted 501-char description")
	}
}

func TestParseRejectsInvalidParameterSchema(t *testing.T) {
	content := "---\nname: x\ndescription: Test\nparameters:\n  type: 12345\nruntime: bash\n---\necho\n"
	if _, err := Parse([]byte(content), "/tmp/bad.md"); err == nil {
		t.Error("Parse accepted invalid JSON-Schema parameters")
	}
}

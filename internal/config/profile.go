package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes the conversational web app being captured: which request
// paths carry the answer stream and which hosts never count as citations.
type Profile struct {
	Name              string   `yaml:"name"`
	PrimaryPaths      []string `yaml:"primary_paths"`
	PrepareSuffix     string   `yaml:"prepare_suffix"`
	HintPaths         []string `yaml:"hint_paths"`
	ContentPath       string   `yaml:"content_path"`
	TerminalMarker    string   `yaml:"terminal_marker"`
	ExcludedHosts     []string `yaml:"excluded_hosts"`
	ExcludedFragments []string `yaml:"excluded_fragments"`
	MyDomains         []string `yaml:"my_domains,omitempty"`
	CompetitorDomains []string `yaml:"competitor_domains,omitempty"`
	Brands            []string `yaml:"brands,omitempty"`
}

// DefaultProfile returns the built-in profile for chatgpt.com.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "chatgpt",
		PrimaryPaths: []string{
			"/backend-anon/f/conversation",
			"/backend-api/f/conversation",
		},
		PrepareSuffix: "/prepare",
		HintPaths: []string{
			"/backend-anon/f/conversation",
			"/backend-api/f/conversation",
			"/backend-anon/conversation",
			"/backend-api/conversation",
		},
		ContentPath:    "/message/content/parts/0",
		TerminalMarker: "[DONE]",
		ExcludedHosts: []string{
			"persistent.oaistatic.com",
			"cdn.oaistatic.com",
			"oaiusercontent.com",
		},
		ExcludedFragments: []string{
			"chatgpt.com/backend",
			"chatgpt.com/assets",
			"chatgpt.com/cdn",
		},
	}
}

// LoadProfile reads a profile YAML file. Unset fields keep their defaults.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile config: %w", err)
	}
	var loaded Profile
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("profile config: %w", err)
	}

	p := DefaultProfile()
	if loaded.Name != "" {
		p.Name = loaded.Name
	}
	if len(loaded.PrimaryPaths) > 0 {
		p.PrimaryPaths = loaded.PrimaryPaths
	}
	if loaded.PrepareSuffix != "" {
		p.PrepareSuffix = loaded.PrepareSuffix
	}
	if len(loaded.HintPaths) > 0 {
		p.HintPaths = loaded.HintPaths
	}
	if loaded.ContentPath != "" {
		p.ContentPath = loaded.ContentPath
	}
	if loaded.TerminalMarker != "" {
		p.TerminalMarker = loaded.TerminalMarker
	}
	if len(loaded.ExcludedHosts) > 0 {
		p.ExcludedHosts = loaded.ExcludedHosts
	}
	if len(loaded.ExcludedFragments) > 0 {
		p.ExcludedFragments = loaded.ExcludedFragments
	}
	p.MyDomains = loaded.MyDomains
	p.CompetitorDomains = loaded.CompetitorDomains
	p.Brands = loaded.Brands

	for i, pp := range p.PrimaryPaths {
		if !strings.HasPrefix(pp, "/") {
			return nil, fmt.Errorf("profile config: primary_paths[%d] must start with /", i)
		}
	}
	return p, nil
}

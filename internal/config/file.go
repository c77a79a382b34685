package config

import (
	"fmt"

	"github.com/agentic-research/derivata/internal/nodeclass"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclFile is the top-level structure of a derivata.hcl file. Attributes
// mirror the environment variables; blocks extend the routing tables.
//
//	comfyui_url = "http://gpu-box:8188"
//	text_sort   = "numeric"
//
//	param "lora_strength" {
//	  hint = "float"
//	}
//
//	node_class "KSamplerAdvanced" {
//	  capabilities = ["sampler"]
//	}
type hclFile struct {
	ComfyUIURL *string `hcl:"comfyui_url,optional"`
	PromptsDir *string `hcl:"prompts_dir,optional"`
	APIHost    *string `hcl:"api_host,optional"`
	APIPort    *int    `hcl:"api_port,optional"`
	DB         *string `hcl:"db,optional"`
	Prefix     *string `hcl:"filename_prefix,optional"`
	LogLevel   *string `hcl:"log_level,optional"`
	LogFormat  *string `hcl:"log_format,optional"`
	TextSort   *string `hcl:"text_sort,optional"`
	PathPolicy *string `hcl:"path_policy,optional"`

	Params      []*hclParam     `hcl:"param,block"`
	NodeClasses []*hclNodeClass `hcl:"node_class,block"`
}

type hclParam struct {
	Key  string `hcl:"key,label"`
	Hint string `hcl:"hint,optional"`
}

type hclNodeClass struct {
	ClassType    string   `hcl:"class_type,label"`
	Capabilities []string `hcl:"capabilities"`
}

// ApplyFile parses the HCL file at path and applies it over c.
func (c *Config) ApplyFile(path string) error {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}
	if err := c.applyBody(f.Body, path); err != nil {
		return err
	}
	c.File = path
	return nil
}

// ApplySource is ApplyFile for in-memory HCL.
func (c *Config) ApplySource(src []byte, filename string) error {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", filename, diags)
	}
	return c.applyBody(f.Body, filename)
}

func (c *Config) applyBody(body hcl.Body, filename string) error {
	var parsed hclFile
	if diags := gohcl.DecodeBody(body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode config file %s: %w", filename, diags)
	}

	str := func(src *string, dst *string) {
		if src != nil {
			*dst = *src
		}
	}
	str(parsed.ComfyUIURL, &c.ComfyUIURL)
	str(parsed.PromptsDir, &c.PromptsDir)
	str(parsed.APIHost, &c.APIHost)
	str(parsed.DB, &c.DBPath)
	str(parsed.Prefix, &c.Prefix)
	str(parsed.LogLevel, &c.LogLevel)
	str(parsed.LogFormat, &c.LogFormat)

	if parsed.APIPort != nil {
		if err := c.SetPort(fmt.Sprint(*parsed.APIPort), filename); err != nil {
			return err
		}
	}
	if parsed.TextSort != nil {
		if err := c.SetTextSort(*parsed.TextSort, filename); err != nil {
			return err
		}
	}
	if parsed.PathPolicy != nil {
		if err := c.SetPathPolicy(*parsed.PathPolicy, filename); err != nil {
			return err
		}
	}

	for _, p := range parsed.Params {
		hint := override.HintAny
		if p.Hint != "" {
			h, err := override.ParseHint(p.Hint)
			if err != nil {
				return &Error{Key: "param." + p.Key + ".hint", Value: p.Hint, Source: filename, Err: err}
			}
			hint = h
		}
		c.Params.Add(p.Key, hint)
	}
	for _, nc := range parsed.NodeClasses {
		var caps nodeclass.Capability
		for _, name := range nc.Capabilities {
			cp, err := nodeclass.ParseCapability(name)
			if err != nil {
				return &Error{Key: "node_class." + nc.ClassType, Value: name, Source: filename, Err: err}
			}
			caps |= cp
		}
		c.Classes.Register(nc.ClassType, caps)
	}
	return nil
}

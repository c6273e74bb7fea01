package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTemplate_Render tests placeholder substitution
func TestTemplate_Render(t *testing.T) {
	tests := []struct {
		name     string
		template Template
		params   map[string]string
		wantLine string
		wantErr  bool
	}{
		{
			name:     "no placeholders",
			template: Template{Text: "show version"},
			wantLine: "show version",
		},
		{
			name:     "single placeholder",
			template: Template{Text: "show ip route vrf {vrf}"},
			params:   map[string]string{"vrf": "MGMT"},
			wantLine: "show ip route vrf MGMT",
		},
		{
			name:     "repeated placeholder",
			template: Template{Text: "show ip route vrf {vrf} {route} vrf {vrf}"},
			params:   map[string]string{"vrf": "default", "route": "10.0.0.1"},
			wantLine: "show ip route vrf default 10.0.0.1 vrf default",
		},
		{
			name:     "extra params ignored",
			template: Template{Text: "show interfaces {intf}"},
			params:   map[string]string{"intf": "Ethernet1", "unused": "x"},
			wantLine: "show interfaces Ethernet1",
		},
		{
			name:     "missing param",
			template: Template{Text: "show ip route vrf {vrf} {route}"},
			params:   map[string]string{"vrf": "default"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := tt.template.Render(tt.params)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMissingParam))
				assert.Contains(t, err.Error(), "route")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLine, cmd.Line())
		})
	}
}

// TestTemplate_Params tests placeholder discovery order
func TestTemplate_Params(t *testing.T) {
	tpl := Template{Text: "show {b} {a} {b}"}
	assert.Equal(t, []string{"b", "a"}, tpl.Params())
	assert.Empty(t, Template{Text: "show version"}.Params())
}

// TestCommand_Defaults tests format and version defaults
func TestCommand_Defaults(t *testing.T) {
	cmd := Template{Text: "show version"}.MustRender()
	assert.Equal(t, FormatJSON, cmd.Format())
	assert.Equal(t, VersionLatest, cmd.Version())
	assert.Equal(t, 0, cmd.Revision())
	assert.False(t, cmd.Collected())
}

// TestCommand_Key tests cache identity
func TestCommand_Key(t *testing.T) {
	a := Template{Text: "show version"}.MustRender()
	b := Template{Text: "show version"}.MustRender()
	assert.Equal(t, a.Key(), b.Key(), "same request should share identity")

	text := Template{Text: "show version", Format: FormatText}.MustRender()
	assert.NotEqual(t, a.Key(), text.Key(), "format is part of identity")

	rev := Template{Text: "show version", Revision: 2}.MustRender()
	assert.NotEqual(t, a.Key(), rev.Key(), "revision is part of identity")

	ver := Template{Text: "show version", Version: "1"}.MustRender()
	assert.NotEqual(t, a.Key(), ver.Key(), "version is part of identity")

	key := a.Key()
	a.fill(Reply{Output: []byte(`{}`)})
	assert.Equal(t, key, a.Key(), "identity must not change after collection")
}

// TestCommand_FillOnce tests that results are written exactly once
func TestCommand_FillOnce(t *testing.T) {
	cmd := Template{Text: "show version"}.MustRender()
	cmd.fill(Reply{Output: []byte(`{"modelName":"DCS-7280"}`)})
	cmd.fill(Reply{Errors: []string{"late"}})

	assert.True(t, cmd.Collected())
	assert.False(t, cmd.Failed())
	assert.Equal(t, "DCS-7280", cmd.Lookup("modelName").String())
}

// TestCommand_Errors tests error accessors
func TestCommand_Errors(t *testing.T) {
	cmd := Template{Text: "show bfd peers"}.MustRender()
	cmd.fill(Reply{Errors: []string{"not supported on this hardware platform"}, Unsupported: true})

	assert.True(t, cmd.Failed())
	assert.True(t, cmd.Unsupported())
	assert.Equal(t, []string{"not supported on this hardware platform"}, cmd.Errors())
}

// TestEscapeKey tests gjson path escaping of literal keys
func TestEscapeKey(t *testing.T) {
	cmd := Template{Text: "show ip ospf neighbor"}.MustRender()
	cmd.fill(Reply{Output: []byte(`{"routes":{"10.1.0.0/24":{"kind":"ospf"}}}`)})

	path := "routes." + EscapeKey("10.1.0.0/24") + ".kind"
	assert.Equal(t, "ospf", cmd.Lookup(path).String())
	assert.Equal(t, `a\.b\*c`, EscapeKey("a.b*c"))
}

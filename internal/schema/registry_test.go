package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(EntityType{
		Label:    "Environment",
		Identity: "account_number_name",
		Concat:   []string{"account_number", "name"},
		Static:   []string{"account_number", "name"},
		Children: []Child{
			{Role: "hosts", Relationship: "HAS_HOST", Label: "Host"},
			{Role: "uservars", Relationship: "HAS_USERVAR", Label: "Uservar"},
		},
	}))
	require.NoError(t, r.Register(EntityType{
		Label:    "Host",
		Identity: "hostname_environment",
		Concat:   []string{"hostname", "environment"},
		Static:   []string{"hostname", "environment"},
		State:    []string{"kernel"},
		Children: []Child{
			{Role: "devices", Relationship: "HAS_DEVICE", Label: "Device"},
			{Role: "aptpackages", Relationship: "HAS_APT_PACKAGE", Label: "AptPackage"},
		},
	}))
	require.NoError(t, r.Register(EntityType{Label: "AptPackage", Identity: "name_version", Static: []string{"name", "version"}, Concat: []string{"name", "version"}}))
	require.NoError(t, r.Register(EntityType{
		Label:    "Device",
		Identity: "name_host",
		Static:   []string{"name", "host"},
		Children: []Child{{Role: "partitions", Relationship: "HAS_PARTITION", Label: "Partition"}},
	}))
	require.NoError(t, r.Register(EntityType{Label: "Partition", Identity: "name_device", State: []string{"size"}}))
	require.NoError(t, r.Register(EntityType{Label: "Uservar", Identity: "name_environment", State: []string{"value"}}))
	require.NoError(t, r.Validate())
	return r
}

func TestRegister_DuplicateProperty(t *testing.T) {
	tests := []struct {
		name string
		typ  EntityType
	}{
		{"static twice", EntityType{Label: "A", Identity: "id", Static: []string{"x", "x"}}},
		{"static and state", EntityType{Label: "A", Identity: "id", Static: []string{"x"}, State: []string{"x"}}},
		{"identity as state", EntityType{Label: "A", Identity: "id", State: []string{"id"}}},
		{"role shadows property", EntityType{Label: "A", Identity: "id", State: []string{"kids"}, Children: []Child{{Role: "kids", Relationship: "HAS_KID", Label: "B"}}}},
		{"role twice", EntityType{Label: "A", Identity: "id", Children: []Child{
			{Role: "kids", Relationship: "HAS_KID", Label: "B"},
			{Role: "kids", Relationship: "HAS_OTHER", Label: "C"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.typ)
			require.Error(t, err)
			assert.True(t, IsDuplicateProperty(err), "got %v", err)
		})
	}
}

func TestRegister_IdentityMayBeStatic(t *testing.T) {
	err := NewRegistry().Register(EntityType{Label: "NameServer", Identity: "ip", Static: []string{"ip"}})
	assert.NoError(t, err)
}

func TestRegister_ConcatMustReferenceDeclared(t *testing.T) {
	err := NewRegistry().Register(EntityType{Label: "A", Identity: "a_b", Concat: []string{"a", "b"}, Static: []string{"a"}})
	require.Error(t, err)
	assert.True(t, IsUnknownProperty(err))
}

func TestRegister_MultipleParents(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EntityType{Label: "A", Identity: "id", Children: []Child{{Role: "c", Relationship: "HAS_C", Label: "C"}}}))
	err := r.Register(EntityType{Label: "B", Identity: "id", Children: []Child{{Role: "c", Relationship: "HAS_C", Label: "C"}}})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeMultipleParents))
}

func TestRegister_DefaultStateLabel(t *testing.T) {
	r := testRegistry(t)
	host, ok := r.Type("Host")
	require.True(t, ok)
	assert.Equal(t, "HostState", host.StateLabel)
}

func TestValidate_UnknownChild(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EntityType{Label: "A", Identity: "id", Children: []Child{{Role: "c", Relationship: "HAS_C", Label: "Missing"}}}))
	err := r.Validate()
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeUnknownChild))
}

func TestPathTo(t *testing.T) {
	r := testRegistry(t)

	path, ok := r.PathTo("Partition")
	require.True(t, ok)
	assert.Equal(t, []PathStep{
		{Label: "Environment", Relationship: "HAS_HOST"},
		{Label: "Host", Relationship: "HAS_DEVICE"},
		{Label: "Device", Relationship: "HAS_PARTITION"},
	}, path)

	root, ok := r.PathTo("Environment")
	require.True(t, ok)
	assert.Empty(t, root)

	_, ok = r.PathTo("Nope")
	assert.False(t, ok)
}

func TestPathsFrom(t *testing.T) {
	r := testRegistry(t)

	assert.Equal(t, [][]string{
		{"Environment", "Host", "AptPackage"},
		{"Environment", "Host", "Device", "Partition"},
		{"Environment", "Uservar"},
	}, r.PathsFrom("Environment"))

	assert.Equal(t, [][]string{
		{"Host", "AptPackage"},
		{"Host", "Device", "Partition"},
	}, r.PathsFrom("Host"))

	assert.Equal(t, [][]string{{"AptPackage"}}, r.PathsFrom("AptPackage"))
	assert.Nil(t, r.PathsFrom("Nope"))
}

func TestPropertiesOf(t *testing.T) {
	r := testRegistry(t)

	props, ok := r.PropertiesOf("Host")
	require.True(t, ok)
	assert.Equal(t, []string{"environment", "hostname", "hostname_environment", "kernel"}, props)

	_, ok = r.PropertiesOf("Nope")
	assert.False(t, ok)
}

func TestRoots(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, []string{"Environment"}, r.Roots())
}

func TestDescribe(t *testing.T) {
	r := testRegistry(t)
	d, ok := r.Describe("Host")
	require.True(t, ok)
	assert.Equal(t, "hostname_environment", d["identity"])
	assert.Equal(t, []string{"kernel"}, d["state_properties"])
	children := d["children"].(map[string]any)
	assert.Contains(t, children, "aptpackages")
}

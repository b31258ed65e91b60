package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbatten/dhcpd/dhcpmsg"
)

func TestParseNamedOptionEncodesByDeclaredType(t *testing.T) {
	code, v, err := parseNamedOption("domain_name=example.com")
	require.NoError(t, err)
	assert.Equal(t, dhcpmsg.OptDomainName, code)
	assert.Equal(t, []byte("example.com"), v.Raw)
}

func TestParseNamedOptionIPList(t *testing.T) {
	code, v, err := parseNamedOption("ntp_servers=10.0.0.1,10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, dhcpmsg.OptNTPServers, code)
	assert.Equal(t, []byte{10, 0, 0, 1, 10, 0, 0, 2}, v.Raw)
}

func TestParseNamedOptionUnknownNameErrors(t *testing.T) {
	_, _, err := parseNamedOption("not_a_real_option=1")
	assert.Error(t, err)
}

func TestParseNamedOptionMissingEqualsErrors(t *testing.T) {
	_, _, err := parseNamedOption("domain_name")
	assert.Error(t, err)
}

func TestParseNumericOptionDecodesHex(t *testing.T) {
	code, v, err := parseNumericOption("66=c0a8ad01")
	require.NoError(t, err)
	assert.Equal(t, dhcpmsg.OptionCode(66), code)
	assert.Equal(t, []byte{0xc0, 0xa8, 0xad, 0x01}, v.Raw)
}

func TestParseNumericOptionInvalidHexErrors(t *testing.T) {
	_, _, err := parseNumericOption("66=zz")
	assert.Error(t, err)
}

func TestParseNumericOptionInvalidCodeErrors(t *testing.T) {
	_, _, err := parseNumericOption("300=aa")
	assert.Error(t, err)
}

package nodesetexporter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, EncoderXML, opts.EncoderTypes)
	assert.Equal(t, LogInfo, opts.InternalLogLevel)
	assert.True(t, opts.ParentStartNodeReplacer.Equal(nodeIDObjects))
}

func TestOptionsResolveLoggerUsesSuppliedLogger(t *testing.T) {
	logger := zap.NewNop()
	opts := Options{Logger: logger}
	assert.Same(t, logger, opts.resolveLogger())
}

func TestOptionsResolveLoggerDefaultsWhenNil(t *testing.T) {
	opts := Options{}
	assert.NotNil(t, opts.resolveLogger())
}

func TestOptionsParentReplacerDefault(t *testing.T) {
	opts := Options{}
	assert.True(t, opts.parentReplacer().Equal(nodeIDObjects))

	custom := NumericNodeID(2, 1)
	opts.ParentStartNodeReplacer = custom
	assert.True(t, opts.parentReplacer().Equal(custom))
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.EncoderTypes = EncoderType(99)
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.NumberOfMaxNodesToRequestData = -1
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.FlatListOfNodes.CreateMissingStartNode = true
	assert.Error(t, opts.Validate(), "flat sub-options without flat mode itself must be rejected")

	opts.FlatListOfNodes.IsEnable = true
	assert.NoError(t, opts.Validate())
}

func TestStatusResultError(t *testing.T) {
	assert.Equal(t, "Good", Ok().Error())
	failed := Fail(SubCodeGetNamespacesFail, assert.AnError)
	assert.Contains(t, failed.Error(), "GetNamespacesFail")
	assert.Contains(t, failed.Error(), assert.AnError.Error())
}

func TestDestinationHelpers(t *testing.T) {
	d := FileDestination("/tmp/out.xml")
	assert.Equal(t, "/tmp/out.xml", d.Path)
	assert.Nil(t, d.Writer)

	var buf bytes.Buffer
	d2 := StreamDestination(&buf)
	assert.Equal(t, "", d2.Path)
	assert.NotNil(t, d2.Writer)
}

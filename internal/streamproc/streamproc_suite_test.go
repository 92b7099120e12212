package streamproc_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestStreamproc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stream Processor Suite")
}

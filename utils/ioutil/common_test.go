package ioutil

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type CommonSuite struct {
	suite.Suite
}

func TestCommonSuite(t *testing.T) {
	suite.Run(t, new(CommonSuite))
}

type closer struct {
	called int
	err    error
}

func (c *closer) Close() error {
	c.called++
	return c.err
}

func (s *CommonSuite) TestCheckCloseCapturesError() {
	c := &closer{err: errors.New("boom")}

	var err error
	CheckClose(c, &err)
	s.ErrorContains(err, "boom")
	s.Equal(1, c.called)
}

func (s *CommonSuite) TestCheckCloseKeepsEarlierError() {
	c := &closer{err: errors.New("boom")}

	err := errors.New("first")
	CheckClose(c, &err)
	s.ErrorContains(err, "first")
	s.Equal(1, c.called)
}

func (s *CommonSuite) TestCheckCloseNoError() {
	c := &closer{}

	var err error
	CheckClose(c, &err)
	s.NoError(err)
	s.Equal(1, c.called)
}

func ExampleCheckClose() {
	f := func() (err error) {
		r := io.NopCloser(strings.NewReader("foo"))
		defer CheckClose(r, &err)
		return err
	}

	if err := f(); err != nil {
		panic(err)
	}
}

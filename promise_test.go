package robotz

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPromiseCompleteDeliversOnce(t *testing.T) {
	p := NewPromise(nil)
	p.Complete(42)
	p.Complete(99) // no-op, already terminal
	result, err := p.Wait(0)
	require.NoError(t, err)
	require.Equal(t, 42, result)
	require.Equal(t, PromiseCompleted, p.State())
}

func TestPromiseExceptionReraisedByWait(t *testing.T) {
	p := NewPromise(nil)
	boom := errors.New("boom")
	p.Exception(boom)
	_, err := p.Wait(0)
	require.ErrorIs(t, err, boom)
}

func TestPromiseExceptionConsumedBySetsNilOnWait(t *testing.T) {
	p := NewPromise(nil)
	p.OnException(func(err error) bool { return true })
	p.Exception(errors.New("boom"))
	_, err := p.Wait(0)
	require.NoError(t, err)
}

func TestPromiseCancelWaitReturnsNilNil(t *testing.T) {
	p := NewPromise(nil)
	p.Cancel(true)
	result, err := p.Wait(0)
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, PromiseCancelled, p.State())
}

func TestPromiseWaitTimeout(t *testing.T) {
	p := NewPromise(nil)
	_, err := p.Wait(10 * time.Millisecond)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}

func TestPromiseCallbackOnAlreadyTerminalFiresImmediately(t *testing.T) {
	p := NewPromise(nil)
	p.Complete("done")

	fired := false
	p.OnComplete(func(result Result) {
		fired = true
		require.Equal(t, "done", result)
	})
	require.True(t, fired)
}

func TestPromiseChainPropagatesSameMode(t *testing.T) {
	p := NewPromise(nil)
	child := NewPromise(nil)
	p.Chain(child, true)
	p.Complete(7)

	result, err := child.Wait(0)
	require.NoError(t, err)
	require.Equal(t, 7, result)
}

func TestPromiseThenOnException(t *testing.T) {
	p := NewPromise(nil)
	var handled error
	q := p.Catch(func(err error) bool {
		handled = err
		return true
	})
	boom := errors.New("boom")
	p.Exception(boom)

	require.Equal(t, boom, handled)
	_, err := q.Wait(0)
	require.NoError(t, err)
}

func TestPromiseFinallyRunsOnAnyOutcome(t *testing.T) {
	for _, transition := range []func(*Promise){
		func(p *Promise) { p.Complete(nil) },
		func(p *Promise) { p.Exception(errors.New("x")) },
		func(p *Promise) { p.Cancel(true) },
	} {
		p := NewPromise(nil)
		ran := false
		p.Finally(func() { ran = true })
		transition(p)
		require.True(t, ran)
	}
}

func TestPromiseAllWaitsForEveryInput(t *testing.T) {
	a, b := NewPromise(nil), NewPromise(nil)
	all := All([]*Promise{a, b})
	a.Complete(1)
	b.Complete(2)

	result, err := all.Wait(0)
	require.NoError(t, err)
	require.Equal(t, []Result{1, 2}, result)
}

func TestPromiseAllExceptionsOnFirstFailure(t *testing.T) {
	a, b := NewPromise(nil), NewPromise(nil)
	all := All([]*Promise{a, b})
	boom := errors.New("boom")
	a.Exception(boom)
	b.Complete(2)

	_, err := all.Wait(0)
	require.ErrorIs(t, err, boom)
}

func TestPromiseRaceDeliversFirstSettled(t *testing.T) {
	a, b := NewPromise(nil), NewPromise(nil)
	race := Race([]*Promise{a, b})
	b.Complete("fast")
	a.Complete("slow")

	result, err := race.Wait(0)
	require.NoError(t, err)
	require.Equal(t, "fast", result)
}

func TestPromiseAllSettledNeverExceptions(t *testing.T) {
	a, b, c := NewPromise(nil), NewPromise(nil), NewPromise(nil)
	settled := AllSettled([]*Promise{a, b, c})
	a.Complete(1)
	b.Exception(errors.New("boom"))
	c.Cancel(true)

	result, err := settled.Wait(0)
	require.NoError(t, err)
	rs := result.([]SettledResult)
	require.Equal(t, 1, rs[0].Result)
	require.Error(t, rs[1].Err)
	require.True(t, rs[2].Cancelled)
}

func TestPromiseAnyRejectsOnlyWhenAllFail(t *testing.T) {
	a, b := NewPromise(nil), NewPromise(nil)
	any := Any([]*Promise{a, b})
	a.Exception(errors.New("a failed"))
	b.Exception(errors.New("b failed"))

	_, err := any.Wait(0)
	require.Error(t, err)
	var noneResolved *ErrNoPromiseResolved
	require.ErrorAs(t, err, &noneResolved)
}

package temporal_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fortressi/durablesaga"
	"github.com/fortressi/durablesaga/order"
	sagatemporal "github.com/fortressi/durablesaga/temporal"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"
)

type WorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	backend *order.Backend
	env     *testsuite.TestWorkflowEnvironment
}

func TestWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(WorkflowTestSuite))
}

var input = order.Input{
	OrderID:    "order-123",
	CustomerID: "customer-456",
	Items:      []order.Item{{SKU: "widget", Quantity: 2}},
	Amount:     4999,
}

func (s *WorkflowTestSuite) SetupTest() {
	s.backend = order.NewBackend(map[string]int{"widget": 10})
}

func (s *WorkflowTestSuite) register(mode durablesaga.CompensationMode) string {
	plan, err := order.NewPlan(durablesaga.ActivityOptions{StartToCloseTimeout: time.Minute})
	s.Require().NoError(err)

	activities := durablesaga.NewActivityRegistry()
	s.Require().NoError(s.backend.Register(activities))

	s.env = s.NewTestWorkflowEnvironment()
	wf := sagatemporal.NewWorkflow(plan, durablesaga.NewExecutor(mode), nil)
	sagatemporal.Register(s.env, wf, activities)
	return wf.Name()
}

func (s *WorkflowTestSuite) run(mode durablesaga.CompensationMode) durablesaga.SagaOutcome {
	name := s.register(mode)
	s.env.ExecuteWorkflow(name, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var outcome durablesaga.SagaOutcome
	s.NoError(s.env.GetWorkflowResult(&outcome))
	return outcome
}

func compensated(outcome durablesaga.SagaOutcome) []durablesaga.ActivityName {
	var names []durablesaga.ActivityName
	for _, c := range outcome.Compensations {
		names = append(names, c.Activity)
	}
	return names
}

func (s *WorkflowTestSuite) Test_AllStepsSucceed() {
	outcome := s.run(durablesaga.CompensationSequential)

	s.Equal(durablesaga.OutcomeCompleted, outcome.Status)
	s.Empty(outcome.Compensations)
	s.Len(outcome.Registered, 4)
	s.Equal(8, s.backend.Stock("widget"))
	s.Zero(s.backend.CallCount(order.RefundPayment))
}

func (s *WorkflowTestSuite) Test_DeliveryFailure() {
	s.backend.FailOn(order.Delivery, errors.New("no courier available"))
	outcome := s.run(durablesaga.CompensationSequential)

	s.Equal(durablesaga.OutcomeRolledBack, outcome.Status)
	s.Equal(order.StepDelivery, outcome.FailedStep)
	s.Contains(outcome.CauseMessage, "no courier available")
	s.Equal([]durablesaga.ActivityName{
		order.RestoreInventory,
		order.RefundPayment,
		order.ReleaseInventory,
	}, compensated(outcome))
	s.True(outcome.FullyRolledBack())
	s.Equal(10, s.backend.Available("widget"))
	s.Zero(s.backend.Charged(input.OrderID))
}

func (s *WorkflowTestSuite) Test_FailedRefund() {
	s.backend.FailOn(order.Delivery, errors.New("no courier available"))
	s.backend.FailOn(order.RefundPayment, errors.New("payment provider unavailable"))
	outcome := s.run(durablesaga.CompensationSequential)

	s.True(outcome.PartiallyRolledBack())
	s.Require().Len(outcome.Compensations, 3)
	s.True(outcome.Compensations[0].Succeeded)
	s.False(outcome.Compensations[1].Succeeded)
	s.Contains(outcome.Compensations[1].Error, "payment provider unavailable")
	s.True(outcome.Compensations[2].Succeeded)
	s.Equal(10, s.backend.Available("widget"))
}

func (s *WorkflowTestSuite) Test_ParallelCompensation() {
	s.backend.FailOn(order.UpdateInventory, errors.New("warehouse offline"))
	outcome := s.run(durablesaga.CompensationParallel)

	s.Equal(order.StepUpdateInventory, outcome.FailedStep)
	s.ElementsMatch([]durablesaga.ActivityName{order.RefundPayment, order.ReleaseInventory}, compensated(outcome))
	s.True(outcome.FullyRolledBack())
	s.Zero(s.backend.Charged(input.OrderID))
}

func (s *WorkflowTestSuite) Test_NonRetryableIsNotRetried() {
	name := s.register(durablesaga.CompensationSequential)
	s.env.ExecuteWorkflow(name, order.Input{
		OrderID:    "order-789",
		CustomerID: "customer-456",
		Items:      []order.Item{{SKU: "widget", Quantity: 50}},
		Amount:     100,
	})

	var outcome durablesaga.SagaOutcome
	s.NoError(s.env.GetWorkflowResult(&outcome))
	s.Equal(order.StepReserveInventory, outcome.FailedStep)
	s.Contains(outcome.CauseMessage, "insufficient stock")
	s.Equal(1, s.backend.CallCount(order.ReserveInventory))
}

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/filter"
)

var (
	ruleField    string
	ruleOperator string
	ruleValue    string
	ruleAction   string
	ruleDisabled bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage filter rules",
	Long: `Manage the filter rules evaluated against every newly archived email.

Each rule is a single predicate: a field (sender, subject, recipient,
has_attachment), an operator (equals, contains, exists), and an action
to report (tag, forward, notify). Rules are independent; an email can
match any number of them.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		rules, err := s.ListRules(false)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Println("No rules defined.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tFIELD\tOPERATOR\tVALUE\tACTION\tENABLED")
		for _, r := range rules {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n",
				r.ID, r.Name, r.Field, r.Operator, r.Value, r.Action, r.Enabled)
		}
		return w.Flush()
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a filter rule",
	Long: `Add a filter rule.

Examples:
  mailvault rules add "tag invoices" --field subject --operator contains --value invoice --action tag
  mailvault rules add "flag attachments" --field has_attachment --operator exists --action notify`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rule := filter.Rule{
			Name:     args[0],
			Field:    filter.Field(ruleField),
			Operator: filter.Operator(ruleOperator),
			Value:    ruleValue,
			Action:   filter.Action(ruleAction),
			Enabled:  !ruleDisabled,
		}
		if !filter.ValidRule(rule) {
			return fmt.Errorf("invalid rule: field=%q operator=%q value=%q action=%q", ruleField, ruleOperator, ruleValue, ruleAction)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		id, err := s.CreateRule(rule)
		if err != nil {
			return err
		}
		fmt.Printf("Rule %d created\n", id)
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a filter rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a filter rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(args[0], false)
	},
}

var rulesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a filter rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid rule ID %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.DeleteRule(id); err != nil {
			return err
		}
		fmt.Printf("Rule %d deleted\n", id)
		return nil
	},
}

func setRuleEnabled(arg string, enabled bool) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid rule ID %q", arg)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetRuleEnabled(id, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Rule %d %s\n", id, state)
	return nil
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleField, "field", "", "field to match: sender, subject, recipient, has_attachment")
	rulesAddCmd.Flags().StringVar(&ruleOperator, "operator", "", "operator: equals, contains, exists")
	rulesAddCmd.Flags().StringVar(&ruleValue, "value", "", "value to compare against (unused for exists)")
	rulesAddCmd.Flags().StringVar(&ruleAction, "action", "", "action to report: tag, forward, notify")
	rulesAddCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "create the rule disabled")
	_ = rulesAddCmd.MarkFlagRequired("field")
	_ = rulesAddCmd.MarkFlagRequired("operator")
	_ = rulesAddCmd.MarkFlagRequired("action")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rulesCmd.AddCommand(rulesDeleteCmd)
	rootCmd.AddCommand(rulesCmd)
}

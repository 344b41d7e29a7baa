package sqlquest_test

import (
	"context"
	"fmt"

	"github.com/soham407/sqlquest"
)

func Example() {
	ctx := context.Background()
	sb := sqlquest.NewSandbox()
	defer sb.Close()

	res := sb.Execute(ctx, "SELECT first_name, salary FROM employees WHERE department_id = 1 ORDER BY salary DESC")
	fmt.Println(res.Columns)
	for _, row := range res.Rows {
		fmt.Println(row[0], row[1])
	}
	// Output:
	// [first_name salary]
	// John 75000.0
	// Mike 70000.0
}

func ExampleSandbox_Execute_batch() {
	ctx := context.Background()
	sb := sqlquest.NewSandbox()
	defer sb.Close()

	res := sb.Execute(ctx, `
		INSERT INTO departments VALUES (4, 'Legal');
		SELECT COUNT(*) AS n FROM departments;
		DELETE FROM departments WHERE id = 4;
	`)
	fmt.Println(res.Rows[0][0], res.RowCount)

	res = sb.Execute(ctx, "UPDATE employees SET salary = salary * 1.1")
	fmt.Println(res.IsStatus(), res.Rows[0][0])
	// Output:
	// 4 1
	// true Query executed successfully.
}

func ExampleSandbox_Execute_error() {
	sb := sqlquest.NewSandbox()
	defer sb.Close()

	res := sb.Execute(context.Background(), "SELECT * FROM customers")
	fmt.Println(res.Success, res.Error, res.RowCount)
	// Output:
	// false no such table: customers 0
}

func ExampleSandbox_Initialize() {
	sb := sqlquest.NewSandbox()
	defer sb.Close()

	schema, err := sb.Initialize(context.Background())
	if err != nil {
		panic(err)
	}
	for _, t := range schema.Tables {
		fmt.Println(t.Name, len(t.Columns), t.RowCount)
	}
	// Output:
	// departments 2 3
	// employees 5 3
}

func ExampleDiff() {
	ctx := context.Background()
	sb := sqlquest.NewSandbox()
	defer sb.Close()

	got := sb.Execute(ctx, "SELECT name FROM departments WHERE id IN (1, 2)")
	want := sb.Execute(ctx, "SELECT name FROM departments WHERE id < 3")
	fmt.Printf("%q\n", sqlquest.Diff(got, want, false))
	// Output:
	// ""
}
